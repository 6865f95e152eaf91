package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// taxonomyBases maps taxonomy names to their REST bases where they differ.
var taxonomyBases = map[string]string{
	"category": "categories",
	"post_tag": "tags",
	"tag":      "tags",
}

// RESTPlatform implements Platform over a WordPress-style REST API.
type RESTPlatform struct {
	client *Client
	prefix string // e.g. "/wp-json/wp/v2/"
}

// NewRESTPlatform creates a Platform rooted at the target's API prefix.
func NewRESTPlatform(client *Client, target *models.Target) *RESTPlatform {
	return &RESTPlatform{client: client, prefix: target.Prefix()}
}

func (p *RESTPlatform) path(parts ...string) string {
	return p.prefix + strings.Join(parts, "/")
}

func (p *RESTPlatform) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, p.prefix)
}

func (p *RESTPlatform) CheckAuth(ctx context.Context) (models.Resource, error) {
	var me models.Resource
	if err := p.client.GetJSON(ctx, p.path("users", "me"), nil, &me); err != nil {
		return nil, err
	}
	return me, nil
}

func (p *RESTPlatform) list(ctx context.Context, collection string, params url.Values) ([]models.Resource, error) {
	var out []models.Resource
	if err := p.client.GetJSON(ctx, p.path(collection), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *RESTPlatform) first(ctx context.Context, collection string, params url.Values) (models.Resource, error) {
	params.Set("per_page", "1")
	params.Set("status", "any")
	found, err := p.list(ctx, collection, params)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (p *RESTPlatform) FindByMeta(ctx context.Context, collection, key, value string) (models.Resource, error) {
	return p.first(ctx, collection, url.Values{"meta_key": {key}, "meta_value": {value}})
}

func (p *RESTPlatform) FindBySlug(ctx context.Context, collection, slug string) (models.Resource, error) {
	return p.first(ctx, collection, url.Values{"slug": {slug}})
}

func (p *RESTPlatform) FindByTitle(ctx context.Context, collection, title string) (models.Resource, error) {
	found, err := p.list(ctx, collection, url.Values{
		"search":   {title},
		"per_page": {"100"},
		"status":   {"any"},
		"context":  {"edit"},
	})
	if err != nil {
		return nil, err
	}
	for _, r := range found {
		if strings.EqualFold(r.Title(), title) {
			return r, nil
		}
	}
	return nil, nil
}

func (p *RESTPlatform) write(ctx context.Context, path string, payload interface{}) (models.Resource, error) {
	body, _, err := p.client.Post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	return decodeWritten(path, body)
}

func decodeWritten(path string, body []byte) (models.Resource, error) {
	var res models.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing response of %s: %w", path, err)
	}
	if res.ID() == 0 {
		return nil, fmt.Errorf("POST %s: response carries no id", path)
	}
	return res, nil
}

func (p *RESTPlatform) CreateEntity(ctx context.Context, collection string, payload map[string]interface{}) (models.Resource, error) {
	path := p.path(collection)
	body, _, err := p.client.PostOnce(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	return decodeWritten(path, body)
}

func (p *RESTPlatform) UpdateEntity(ctx context.Context, collection string, id int, payload map[string]interface{}) (models.Resource, error) {
	return p.write(ctx, p.path(collection, strconv.Itoa(id)), payload)
}

// TaxonomyBase returns the REST base of a taxonomy.
func TaxonomyBase(taxonomy string) string {
	if base, ok := taxonomyBases[taxonomy]; ok {
		return base
	}
	return taxonomy
}

func (p *RESTPlatform) SearchTerms(ctx context.Context, taxonomy, name string) ([]models.Resource, error) {
	return p.list(ctx, TaxonomyBase(taxonomy), url.Values{"search": {name}, "per_page": {"100"}})
}

func (p *RESTPlatform) CreateTerm(ctx context.Context, taxonomy, name, slug string) (models.Resource, error) {
	payload := map[string]interface{}{"name": name}
	if slug != "" {
		payload["slug"] = slug
	}
	return p.write(ctx, p.path(TaxonomyBase(taxonomy)), payload)
}

func (p *RESTPlatform) SearchUsers(ctx context.Context, query string) ([]models.Resource, error) {
	return p.list(ctx, "users", url.Values{"search": {query}, "per_page": {"100"}, "context": {"edit"}})
}

func (p *RESTPlatform) CreateUser(ctx context.Context, user UserSpec) (models.Resource, error) {
	payload := map[string]interface{}{
		"username": user.Username,
		"name":     user.Name,
		"email":    user.Email,
		// Migrated authors never log in with this; it is reset out of band.
		"password": uuid.New().String(),
	}
	return p.write(ctx, p.path("users"), payload)
}

func (p *RESTPlatform) UploadMedia(ctx context.Context, filename, mimeType string, content []byte) (models.Resource, error) {
	path := p.path("media")
	body, _, err := p.client.PostMultipart(ctx, path, filename, mimeType, content)
	if err != nil {
		return nil, err
	}
	var res models.Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parsing response of %s: %w", path, err)
	}
	if res.ID() == 0 || res.SourceURL() == "" {
		return nil, fmt.Errorf("POST %s: response carries no id or source_url", path)
	}
	return res, nil
}
