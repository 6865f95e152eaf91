package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
)

var (
	// ErrUnreachable is returned when the target cannot be reached at all.
	ErrUnreachable = errors.New("target unreachable")
	// ErrUnauthorized is returned when the target rejects the credential.
	ErrUnauthorized = errors.New("target rejected credentials")
)

// Preflight verifies that the target is reachable and that the credential
// is accepted, returning the authenticated user. A run must not start if
// it fails.
func Preflight(ctx context.Context, p platform.Platform, logger *slog.Logger) (models.Resource, error) {
	logger = logger.With("component", "preflight")

	logger.Info("checking target connectivity")
	if err := p.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	logger.Info("checking credentials")
	me, err := p.CheckAuth(ctx)
	if err != nil {
		var he *platform.HTTPError
		if errors.As(err, &he) && (he.StatusCode == 401 || he.StatusCode == 403) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("connection test failed: %w", err)
	}
	logger.Info("target OK", "user", me.Name(), "id", me.ID())
	return me, nil
}
