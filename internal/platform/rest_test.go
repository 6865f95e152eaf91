package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform/platformtest"
	"github.com/rflorenc/content-migration-workbench/internal/resilience"
)

func newFake(t *testing.T) (*platformtest.Server, *RESTPlatform) {
	t.Helper()
	srv := platformtest.New()
	t.Cleanup(srv.Close)
	target := srv.Target()
	client := NewClient(target, ClientOptions{Policy: resilience.Policy{Retries: 1, BaseDelay: time.Millisecond}})
	return srv, NewRESTPlatform(client, target)
}

func TestRESTPlatform_PingAndAuth(t *testing.T) {
	_, p := newFake(t)
	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))
	me, err := p.CheckAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", me.Name())
}

func TestRESTPlatform_Lookups(t *testing.T) {
	srv, p := newFake(t)
	ctx := context.Background()
	seeded := srv.Seed("posts", models.Resource{
		"slug":  "hello",
		"title": "Hello World",
		"meta":  map[string]interface{}{"_external_id": "post-42"},
	})

	byMeta, err := p.FindByMeta(ctx, "posts", "_external_id", "post-42")
	require.NoError(t, err)
	require.NotNil(t, byMeta)
	assert.Equal(t, seeded.ID(), byMeta.ID())

	bySlug, err := p.FindBySlug(ctx, "posts", "hello")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	assert.Equal(t, seeded.ID(), bySlug.ID())

	byTitle, err := p.FindByTitle(ctx, "posts", "hello world")
	require.NoError(t, err)
	require.NotNil(t, byTitle)
	assert.Equal(t, seeded.ID(), byTitle.ID())

	missing, err := p.FindBySlug(ctx, "posts", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRESTPlatform_CreateAndSparseUpdate(t *testing.T) {
	srv, p := newFake(t)
	ctx := context.Background()

	created, err := p.CreateEntity(ctx, "events", map[string]interface{}{
		"title": "Launch", "slug": "launch", "status": "draft",
		"meta": map[string]interface{}{"location_name": "Hall A"},
	})
	require.NoError(t, err)
	id := created.ID()
	require.NotZero(t, id)

	_, err = p.UpdateEntity(ctx, "events", id, map[string]interface{}{
		"title": "Launch Day",
		"meta":  map[string]interface{}{"host": "Ada"},
	})
	require.NoError(t, err)

	stored := srv.Item("events", id)
	assert.Equal(t, "Launch Day", stored.Title())
	assert.Equal(t, "draft", stored["status"], "fields absent from the update are kept")
	assert.Equal(t, "Hall A", stored.Meta()["location_name"])
	assert.Equal(t, "Ada", stored.Meta()["host"])
}

func TestRESTPlatform_TermExists(t *testing.T) {
	srv, p := newFake(t)
	ctx := context.Background()
	existing := srv.Seed("tags", models.Resource{"name": "Go", "slug": "go"})

	_, err := p.CreateTerm(ctx, "tags", "go", "go")
	require.Error(t, err)
	termID, ok := TermExists(err)
	require.True(t, ok, "duplicate term must be recognised: %v", err)
	assert.Equal(t, existing.ID(), termID)

	terms, err := p.SearchTerms(ctx, "post_tag", "Go")
	require.NoError(t, err)
	require.Len(t, terms, 1)
}

func TestRESTPlatform_UserExists(t *testing.T) {
	srv, p := newFake(t)
	ctx := context.Background()
	srv.Seed("users", models.Resource{"name": "Ada", "email": "ada@example.com", "username": "ada"})

	_, err := p.CreateUser(ctx, UserSpec{Username: "ada2", Name: "Ada", Email: "ADA@example.com"})
	assert.True(t, UserExists(err), "duplicate email must be recognised: %v", err)
	_, err = p.CreateUser(ctx, UserSpec{Username: "ada", Name: "Other", Email: "other@example.com"})
	assert.True(t, UserExists(err), "duplicate login must be recognised: %v", err)
	_, ok := TermExists(err)
	assert.False(t, ok)

	_, err = p.CreateUser(ctx, UserSpec{Username: "grace", Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)
	assert.False(t, UserExists(nil))
}

func TestRESTPlatform_UsersAndMedia(t *testing.T) {
	srv, p := newFake(t)
	ctx := context.Background()
	srv.Seed("users", models.Resource{"name": "Ada Lovelace", "email": "ada@example.com", "username": "ada"})

	users, err := p.SearchUsers(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, users, 1)

	created, err := p.CreateUser(ctx, UserSpec{Username: "grace", Name: "Grace Hopper", Email: "grace@example.com"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID())

	media, err := p.UploadMedia(ctx, "x.jpg", "image/jpeg", []byte("JPEG"))
	require.NoError(t, err)
	assert.NotZero(t, media.ID())
	assert.Contains(t, media.SourceURL(), "/wp-content/uploads/")
	assert.Equal(t, 1, srv.Calls("POST", "media"))
}

func TestRESTPlatform_RetriesInjectedFailure(t *testing.T) {
	srv, p := newFake(t)
	srv.FailNext("GET", "posts", 503)

	_, err := p.FindBySlug(context.Background(), "posts", "x")
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Calls("GET", "posts"))

	srv.FailNext("POST", "posts", 422)
	_, err = p.CreateEntity(context.Background(), "posts", map[string]interface{}{"title": "x"})
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, 422, he.StatusCode)
	assert.Equal(t, 1, srv.Calls("POST", "posts"), "permanent errors are not retried")

	srv.FailNext("POST", "posts", 503)
	_, err = p.CreateEntity(context.Background(), "posts", map[string]interface{}{"title": "x"})
	require.True(t, errors.As(err, &he))
	assert.Equal(t, 503, he.StatusCode)
	assert.Equal(t, 2, srv.Calls("POST", "posts"), "creates are sent once")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&HTTPError{StatusCode: 404}))
	assert.False(t, IsNotFound(&HTTPError{StatusCode: 400}))
	assert.False(t, IsNotFound(errors.New("x")))
}
