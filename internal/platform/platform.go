package platform

import (
	"context"
	"errors"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// Platform defines the operations the migration needs from the remote
// content platform. Collection names are REST bases such as "posts",
// "events" or "tags".
type Platform interface {
	// Ping tests connectivity (unauthenticated). Returns nil if reachable.
	Ping(ctx context.Context) error

	// CheckAuth verifies the credential and returns the authenticated user.
	CheckAuth(ctx context.Context) (models.Resource, error)

	// FindByMeta returns the first entity whose meta key equals value, or nil.
	FindByMeta(ctx context.Context, collection, key, value string) (models.Resource, error)

	// FindBySlug returns the entity with the given slug, or nil.
	FindBySlug(ctx context.Context, collection, slug string) (models.Resource, error)

	// FindByTitle returns the first entity whose title equals title
	// (case-insensitive), or nil.
	FindByTitle(ctx context.Context, collection, title string) (models.Resource, error)

	// CreateEntity creates an entity and returns it as stored remotely.
	// It makes a single attempt: retrying is left to the caller, which
	// must first check whether a failed attempt was stored anyway.
	CreateEntity(ctx context.Context, collection string, payload map[string]interface{}) (models.Resource, error)

	// UpdateEntity sends payload as a sparse update of entity id.
	UpdateEntity(ctx context.Context, collection string, id int, payload map[string]interface{}) (models.Resource, error)

	// SearchTerms returns the terms of a taxonomy matching name.
	SearchTerms(ctx context.Context, taxonomy, name string) ([]models.Resource, error)

	// CreateTerm creates a taxonomy term.
	CreateTerm(ctx context.Context, taxonomy, name, slug string) (models.Resource, error)

	// SearchUsers returns users matching query (email or name).
	SearchUsers(ctx context.Context, query string) ([]models.Resource, error)

	// CreateUser creates a remote user.
	CreateUser(ctx context.Context, user UserSpec) (models.Resource, error)

	// UploadMedia uploads one file and returns the media item ({id, source_url}).
	UploadMedia(ctx context.Context, filename, mimeType string, content []byte) (models.Resource, error)
}

// UserSpec describes a user to create.
type UserSpec struct {
	Username string
	Name     string
	Email    string
}

// TermExists reports whether err is the platform's "term already exists"
// rejection (HTTP 409, or HTTP 400 with code term_exists). The existing
// term's id is returned when the error body carries it.
func TermExists(err error) (int, bool) {
	var he *HTTPError
	if !errors.As(err, &he) {
		return 0, false
	}
	if he.StatusCode == 409 || (he.StatusCode == 400 && he.Code == "term_exists") {
		return models.IntField(he.Data, "term_id"), true
	}
	return 0, false
}

// UserExists reports whether err is the platform's rejection of a user
// whose email or login is already registered.
func UserExists(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != 400 {
		return false
	}
	return he.Code == "existing_user_email" || he.Code == "existing_user_login"
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == 404
}
