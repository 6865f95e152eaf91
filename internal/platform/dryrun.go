package platform

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// DryRunPlatform passes reads through to a live Platform and answers
// every mutating call locally with a synthetic entity carrying a
// provisional negative id. Nothing is ever written remotely.
type DryRunPlatform struct {
	live Platform
	next int64

	mu        sync.Mutex
	mutations map[string]int
}

// DryRun wraps p so that no mutating call reaches the remote.
func DryRun(p Platform) *DryRunPlatform {
	return &DryRunPlatform{live: p, mutations: make(map[string]int)}
}

// Intercepted returns how many mutating calls of each kind were
// answered locally.
func (d *DryRunPlatform) Intercepted() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.mutations))
	for k, v := range d.mutations {
		out[k] = v
	}
	return out
}

func (d *DryRunPlatform) provisional(kind string) int {
	d.mu.Lock()
	d.mutations[kind]++
	d.mu.Unlock()
	return -int(atomic.AddInt64(&d.next, 1))
}

func (d *DryRunPlatform) Ping(ctx context.Context) error { return d.live.Ping(ctx) }

func (d *DryRunPlatform) CheckAuth(ctx context.Context) (models.Resource, error) {
	return d.live.CheckAuth(ctx)
}

func (d *DryRunPlatform) FindByMeta(ctx context.Context, collection, key, value string) (models.Resource, error) {
	return d.live.FindByMeta(ctx, collection, key, value)
}

func (d *DryRunPlatform) FindBySlug(ctx context.Context, collection, slug string) (models.Resource, error) {
	return d.live.FindBySlug(ctx, collection, slug)
}

func (d *DryRunPlatform) FindByTitle(ctx context.Context, collection, title string) (models.Resource, error) {
	return d.live.FindByTitle(ctx, collection, title)
}

func (d *DryRunPlatform) SearchTerms(ctx context.Context, taxonomy, name string) ([]models.Resource, error) {
	return d.live.SearchTerms(ctx, taxonomy, name)
}

func (d *DryRunPlatform) SearchUsers(ctx context.Context, query string) ([]models.Resource, error) {
	return d.live.SearchUsers(ctx, query)
}

func (d *DryRunPlatform) CreateEntity(_ context.Context, collection string, payload map[string]interface{}) (models.Resource, error) {
	res := echo(payload)
	res["id"] = d.provisional("create:" + collection)
	return res, nil
}

func (d *DryRunPlatform) UpdateEntity(_ context.Context, collection string, id int, payload map[string]interface{}) (models.Resource, error) {
	d.provisional("update:" + collection)
	res := echo(payload)
	res["id"] = id
	return res, nil
}

func (d *DryRunPlatform) CreateTerm(_ context.Context, taxonomy, name, slug string) (models.Resource, error) {
	return models.Resource{
		"id":       d.provisional("term:" + taxonomy),
		"name":     name,
		"slug":     slug,
		"taxonomy": taxonomy,
	}, nil
}

func (d *DryRunPlatform) CreateUser(_ context.Context, user UserSpec) (models.Resource, error) {
	return models.Resource{
		"id":       d.provisional("user"),
		"username": user.Username,
		"name":     user.Name,
		"email":    user.Email,
	}, nil
}

func (d *DryRunPlatform) UploadMedia(_ context.Context, filename, mimeType string, _ []byte) (models.Resource, error) {
	return models.Resource{
		"id":         d.provisional("media"),
		"source_url": "/dry-run/media/" + filename,
		"mime_type":  mimeType,
	}, nil
}

func echo(payload map[string]interface{}) models.Resource {
	res := make(models.Resource, len(payload)+1)
	for k, v := range payload {
		res[k] = v
	}
	return res
}
