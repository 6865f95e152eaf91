// Package resolver maps symbolic references (taxonomy terms, authors) to
// remote identifiers, creating missing referents on demand.
//
// A Resolver is scoped to one migration run. Its cache guarantees that a
// given (kind, name) resolves to the same identifier for the whole run, and
// concurrent misses for the same key share one remote lookup/create.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
)

var (
	// ErrUnresolvedAuthor is returned when no author match, creation or
	// default identity is available.
	ErrUnresolvedAuthor = errors.New("unresolved author")
	// ErrUnsupportedKind is returned for reference kinds the resolver does
	// not handle.
	ErrUnsupportedKind = errors.New("unsupported reference kind")
)

// Options configures author fallbacks.
type Options struct {
	// CreateAuthors creates a remote user when no match is found.
	CreateAuthors bool
	// DefaultAuthor is the identity used as last resort: a numeric remote
	// id, an email or a display name.
	DefaultAuthor string
	Logger        *slog.Logger
}

type cacheKey struct {
	kind models.RefKind
	name string
}

// Resolver resolves references against a Platform with a run-scoped cache.
type Resolver struct {
	platform platform.Platform
	opts     Options
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]int
	group singleflight.Group

	termsCreated int64
	usersCreated int64
}

// New creates a Resolver for one run.
func New(p platform.Platform, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		platform: p,
		opts:     opts,
		logger:   logger.With("component", "resolver"),
		cache:    make(map[cacheKey]int),
	}
}

// TermsCreated returns how many taxonomy terms this run created.
func (r *Resolver) TermsCreated() int { return int(atomic.LoadInt64(&r.termsCreated)) }

// UsersCreated returns how many users this run created.
func (r *Resolver) UsersCreated() int { return int(atomic.LoadInt64(&r.usersCreated)) }

func (r *Resolver) cached(key cacheKey) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[key]
	return id, ok
}

func (r *Resolver) store(key cacheKey, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = id
}

// Resolve returns the remote identifier for (kind, name). Names match
// case-insensitively. Taxonomy terms are created on miss; authors follow
// the fallback chain email, display name, creation, default identity.
func (r *Resolver) Resolve(ctx context.Context, kind models.RefKind, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("resolving %s: empty name", kind)
	}
	key := cacheKey{kind: kind, name: strings.ToLower(name)}
	if id, ok := r.cached(key); ok {
		return id, nil
	}

	v, err, _ := r.group.Do(string(kind)+"\x00"+key.name, func() (interface{}, error) {
		if id, ok := r.cached(key); ok {
			return id, nil
		}
		var (
			id  int
			err error
		)
		switch {
		case kind == models.RefAuthor:
			id, err = r.resolveAuthor(ctx, name)
		default:
			taxonomy, ok := kind.Taxonomy()
			if !ok {
				return 0, fmt.Errorf("resolving %s %q: %w", kind, name, ErrUnsupportedKind)
			}
			id, err = r.resolveTerm(ctx, taxonomy, name)
		}
		if err != nil {
			return 0, err
		}
		r.store(key, id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Resolver) findTerm(ctx context.Context, taxonomy, name string) (int, error) {
	terms, err := r.platform.SearchTerms(ctx, taxonomy, name)
	if err != nil {
		return 0, fmt.Errorf("searching %s %q: %w", taxonomy, name, err)
	}
	for _, term := range terms {
		if strings.EqualFold(term.Name(), name) {
			return term.ID(), nil
		}
	}
	return 0, nil
}

func (r *Resolver) resolveTerm(ctx context.Context, taxonomy, name string) (int, error) {
	id, err := r.findTerm(ctx, taxonomy, name)
	if err != nil || id != 0 {
		return id, err
	}

	created, err := r.platform.CreateTerm(ctx, taxonomy, name, models.Slugify(name))
	if err == nil {
		atomic.AddInt64(&r.termsCreated, 1)
		r.logger.Info("created term", "taxonomy", taxonomy, "name", name, "id", created.ID())
		return created.ID(), nil
	}
	termID, exists := platform.TermExists(err)
	if !exists {
		return 0, fmt.Errorf("creating %s %q: %w", taxonomy, name, err)
	}
	// Someone else created it between our lookup and create.
	id, lookupErr := r.findTerm(ctx, taxonomy, name)
	if lookupErr == nil && id != 0 {
		return id, nil
	}
	if termID != 0 {
		return termID, nil
	}
	if lookupErr != nil {
		return 0, lookupErr
	}
	return 0, fmt.Errorf("creating %s %q: reported as existing but not found: %w", taxonomy, name, err)
}

// authorIdentity splits "Display Name <email>" into its parts. A bare
// address is an email; anything else is a display name.
func authorIdentity(s string) (name, email string) {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Name, addr.Address
	}
	if strings.Contains(s, "@") && !strings.ContainsAny(s, " <>") {
		return "", s
	}
	return s, ""
}

func (r *Resolver) findUser(ctx context.Context, name, email string) (int, error) {
	if email != "" {
		users, err := r.platform.SearchUsers(ctx, email)
		if err != nil {
			return 0, fmt.Errorf("searching user %q: %w", email, err)
		}
		for _, u := range users {
			if strings.EqualFold(models.StringField(u, "email"), email) {
				return u.ID(), nil
			}
		}
	}
	if name != "" {
		users, err := r.platform.SearchUsers(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("searching user %q: %w", name, err)
		}
		for _, u := range users {
			if strings.EqualFold(u.Name(), name) {
				return u.ID(), nil
			}
		}
	}
	return 0, nil
}

func (r *Resolver) resolveAuthor(ctx context.Context, identity string) (int, error) {
	name, email := authorIdentity(identity)
	id, err := r.findUser(ctx, name, email)
	if err != nil || id != 0 {
		return id, err
	}

	if r.opts.CreateAuthors && email != "" {
		display := name
		if display == "" {
			display = strings.SplitN(email, "@", 2)[0]
		}
		created, err := r.platform.CreateUser(ctx, platform.UserSpec{
			Username: models.Slugify(display),
			Name:     display,
			Email:    email,
		})
		if platform.UserExists(err) {
			// Registered between our lookup and create.
			id, lookupErr := r.findUser(ctx, name, email)
			if lookupErr != nil {
				return 0, lookupErr
			}
			if id != 0 {
				return id, nil
			}
			return 0, fmt.Errorf("creating user %q: reported as existing but not found: %w", identity, err)
		}
		if err != nil {
			return 0, fmt.Errorf("creating user %q: %w", identity, err)
		}
		atomic.AddInt64(&r.usersCreated, 1)
		r.logger.Info("created user", "name", display, "id", created.ID())
		return created.ID(), nil
	}

	if r.opts.DefaultAuthor != "" {
		id, err := r.defaultAuthor(ctx)
		if err != nil {
			return 0, err
		}
		r.logger.Warn("author not found, using default author", "author", identity, "default", r.opts.DefaultAuthor)
		return id, nil
	}
	return 0, fmt.Errorf("author %q: %w", identity, ErrUnresolvedAuthor)
}

func (r *Resolver) defaultAuthor(ctx context.Context) (int, error) {
	if n, err := strconv.Atoi(r.opts.DefaultAuthor); err == nil && n > 0 {
		return n, nil
	}
	key := cacheKey{kind: "default-author"}
	if id, ok := r.cached(key); ok {
		return id, nil
	}
	name, email := authorIdentity(r.opts.DefaultAuthor)
	id, err := r.findUser(ctx, name, email)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("default author %q not found: %w", r.opts.DefaultAuthor, ErrUnresolvedAuthor)
	}
	r.store(key, id)
	return id, nil
}
