package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
	"github.com/rflorenc/content-migration-workbench/internal/platform/platformtest"
	"github.com/rflorenc/content-migration-workbench/internal/resilience"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newPlatform(t *testing.T) (*platformtest.Server, platform.Platform) {
	t.Helper()
	srv := platformtest.New()
	t.Cleanup(srv.Close)
	target := srv.Target()
	client := platform.NewClient(target, platform.ClientOptions{
		Policy: resilience.Policy{Retries: 1, BaseDelay: time.Millisecond},
		Logger: quiet,
	})
	return srv, platform.NewRESTPlatform(client, target)
}

func TestResolve_TermCreatedOnceAndCached(t *testing.T) {
	srv, p := newPlatform(t)
	r := New(p, Options{Logger: quiet})
	ctx := context.Background()

	first, err := r.Resolve(ctx, models.TaxonomyKind("tags"), "Go")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, models.TaxonomyKind("tags"), "go")
	require.NoError(t, err)

	assert.Equal(t, first, second, "matching is case-insensitive and cached")
	assert.Equal(t, 1, r.TermsCreated())
	assert.Equal(t, 1, srv.Calls("POST", "tags"))
	assert.Equal(t, 1, srv.Calls("GET", "tags"), "second resolution is served from cache")
}

func TestResolve_ExistingTermNotCreated(t *testing.T) {
	srv, p := newPlatform(t)
	existing := srv.Seed("categories", models.Resource{"name": "News", "slug": "news"})
	srv.Seed("categories", models.Resource{"name": "Newsletter", "slug": "newsletter"})
	r := New(p, Options{Logger: quiet})

	id, err := r.Resolve(context.Background(), models.TaxonomyKind("category"), "news")
	require.NoError(t, err)
	assert.Equal(t, existing.ID(), id, "exact match wins over substring search hits")
	assert.Zero(t, r.TermsCreated())
	assert.Zero(t, srv.Calls("POST", "categories"))
}

func TestResolve_TermExistsRace(t *testing.T) {
	srv, p := newPlatform(t)
	existing := srv.Seed("tags", models.Resource{"name": "Race", "slug": "race"})
	r := New(p, Options{Logger: quiet})

	// The lookup sees nothing, then creation reports the term as existing.
	r.platform = &hidingPlatform{Platform: p, hideOnce: true}
	id, err := r.Resolve(context.Background(), models.TaxonomyKind("tags"), "Race")
	require.NoError(t, err)
	assert.Equal(t, existing.ID(), id)
	assert.Zero(t, r.TermsCreated())
}

// hidingPlatform makes the first term search come back empty, simulating
// a term created concurrently by another writer.
type hidingPlatform struct {
	platform.Platform
	mu       sync.Mutex
	hideOnce bool
	// hideUsers is the number of user searches that come back empty.
	hideUsers int
}

func (h *hidingPlatform) SearchUsers(ctx context.Context, query string) ([]models.Resource, error) {
	h.mu.Lock()
	hide := h.hideUsers > 0
	if hide {
		h.hideUsers--
	}
	h.mu.Unlock()
	if hide {
		return nil, nil
	}
	return h.Platform.SearchUsers(ctx, query)
}

func (h *hidingPlatform) SearchTerms(ctx context.Context, taxonomy, name string) ([]models.Resource, error) {
	h.mu.Lock()
	hide := h.hideOnce
	h.hideOnce = false
	h.mu.Unlock()
	if hide {
		return nil, nil
	}
	return h.Platform.SearchTerms(ctx, taxonomy, name)
}

func TestResolve_ConcurrentMissesCreateOnce(t *testing.T) {
	srv, p := newPlatform(t)
	r := New(p, Options{Logger: quiet})

	var wg sync.WaitGroup
	ids := make([]int, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Resolve(context.Background(), models.TaxonomyKind("tags"), "Shared")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, srv.Items("tags"), 1)
}

func TestResolve_AuthorPrefersEmail(t *testing.T) {
	srv, p := newPlatform(t)
	byEmail := srv.Seed("users", models.Resource{"name": "A. Lovelace", "email": "ada@example.com"})
	srv.Seed("users", models.Resource{"name": "Ada Lovelace", "email": "someone-else@example.com"})
	r := New(p, Options{Logger: quiet, DefaultAuthor: "1"})

	id, err := r.Resolve(context.Background(), models.RefAuthor, "Ada Lovelace <ada@example.com>")
	require.NoError(t, err)
	assert.Equal(t, byEmail.ID(), id)
}

func TestResolve_AuthorByDisplayName(t *testing.T) {
	srv, p := newPlatform(t)
	user := srv.Seed("users", models.Resource{"name": "Grace Hopper", "email": "grace@example.com"})
	r := New(p, Options{Logger: quiet})

	id, err := r.Resolve(context.Background(), models.RefAuthor, "grace hopper")
	require.NoError(t, err)
	assert.Equal(t, user.ID(), id)
}

func TestResolve_AuthorCreated(t *testing.T) {
	srv, p := newPlatform(t)
	r := New(p, Options{Logger: quiet, CreateAuthors: true, DefaultAuthor: "1"})

	id, err := r.Resolve(context.Background(), models.RefAuthor, "New Writer <new@example.com>")
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, 1, r.UsersCreated())
	stored := srv.Item("users", id)
	assert.Equal(t, "new@example.com", stored["email"])
	assert.Equal(t, "new-writer", stored["username"])
}

func TestResolve_AuthorExistsRace(t *testing.T) {
	srv, p := newPlatform(t)
	existing := srv.Seed("users", models.Resource{"name": "Ada Lovelace", "username": "ada", "email": "ada@example.com"})
	r := New(p, Options{Logger: quiet, CreateAuthors: true})

	// Both lookups miss, then creation reports the email as registered.
	r.platform = &hidingPlatform{Platform: p, hideUsers: 2}
	id, err := r.Resolve(context.Background(), models.RefAuthor, "Ada Lovelace <ada@example.com>")
	require.NoError(t, err)
	assert.Equal(t, existing.ID(), id)
	assert.Zero(t, r.UsersCreated())
	assert.Equal(t, 1, srv.Calls("POST", "users"))
	assert.Len(t, srv.Items("users"), 1)
}

func TestResolve_AuthorCreateResponseLost(t *testing.T) {
	srv, p := newPlatform(t)
	srv.LoseNextResponses("users", 502)
	r := New(p, Options{Logger: quiet, CreateAuthors: true})

	id, err := r.Resolve(context.Background(), models.RefAuthor, "New Writer <new@example.com>")
	require.NoError(t, err)
	users := srv.Items("users")
	require.Len(t, users, 1)
	assert.Equal(t, users[0].ID(), id)
	assert.Equal(t, 2, srv.Calls("POST", "users"), "the retry is rejected as existing and resolved by lookup")
}

func TestResolve_AuthorDefault(t *testing.T) {
	srv, p := newPlatform(t)
	editor := srv.Seed("users", models.Resource{"name": "Editor", "email": "editor@example.com"})
	r := New(p, Options{Logger: quiet, DefaultAuthor: "editor@example.com"})

	id, err := r.Resolve(context.Background(), models.RefAuthor, "Unknown Person")
	require.NoError(t, err)
	assert.Equal(t, editor.ID(), id)
	assert.Zero(t, srv.Calls("POST", "users"))
}

func TestResolve_AuthorUnresolved(t *testing.T) {
	_, p := newPlatform(t)
	r := New(p, Options{Logger: quiet})

	_, err := r.Resolve(context.Background(), models.RefAuthor, "Nobody")
	assert.True(t, errors.Is(err, ErrUnresolvedAuthor))
}

func TestResolve_Unsupported(t *testing.T) {
	_, p := newPlatform(t)
	r := New(p, Options{Logger: quiet})
	_, err := r.Resolve(context.Background(), models.RefKind("bogus"), "x")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
	_, err = r.Resolve(context.Background(), models.RefAuthor, "  ")
	assert.Error(t, err)
}

func TestResolveRefs(t *testing.T) {
	srv, p := newPlatform(t)
	author := srv.Seed("users", models.Resource{"name": "Ada", "email": "ada@example.com"})
	r := New(p, Options{Logger: quiet})

	res, err := r.ResolveRefs(context.Background(), []models.Reference{
		{Kind: models.RefAuthor, Name: "ada@example.com", Critical: true},
		{Kind: models.TaxonomyKind("post_tag"), Name: "a"},
		{Kind: models.TaxonomyKind("post_tag"), Name: "b"},
		{Kind: models.TaxonomyKind("post_tag"), Name: "A"},
		{Kind: models.TaxonomyKind("category"), Name: "News", Field: "categories"},
		{Kind: models.RefMedia, Name: "./img/x.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, author.ID(), res.Fields["author"])
	assert.Len(t, res.Fields["tags"], 2, "duplicate terms collapse")
	assert.Len(t, res.Fields["categories"], 1)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 2, srv.Calls("POST", "tags"))
}

func TestResolveRefs_NonCriticalDropped(t *testing.T) {
	srv, p := newPlatform(t)
	r := New(p, Options{Logger: quiet})
	srv.FailNext("POST", "tags", 403)

	res, err := r.ResolveRefs(context.Background(), []models.Reference{
		{Kind: models.TaxonomyKind("tags"), Name: "forbidden"},
		{Kind: models.TaxonomyKind("tags"), Name: "fine"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Fields["tags"], 1)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "forbidden")
}

func TestResolveRefs_CriticalFails(t *testing.T) {
	srv, p := newPlatform(t)
	r := New(p, Options{Logger: quiet})

	_, err := r.ResolveRefs(context.Background(), []models.Reference{
		{Kind: models.TaxonomyKind("tags"), Name: "a"},
		{Kind: models.RefAuthor, Name: "Nobody", Critical: true},
	})
	assert.ErrorIs(t, err, ErrUnresolvedAuthor)
	assert.Zero(t, srv.Calls("POST", "tags"), "critical refs resolve before any term is created")
	assert.Zero(t, r.TermsCreated())
}
