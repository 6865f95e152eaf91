package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/platform"
)

var (
	// ErrLocalMedia is returned when a referenced local file cannot be read.
	ErrLocalMedia = errors.New("local media unavailable")
	// ErrTooLarge is returned for assets above the configured size limit.
	ErrTooLarge = errors.New("media file too large")
)

// URLForm selects how rewritten references are written.
type URLForm string

const (
	URLRelative URLForm = "relative"
	URLAbsolute URLForm = "absolute"
)

// Options configures a Rewriter.
type Options struct {
	// Root is searched for media when a path does not resolve against
	// the record's own directory.
	Root string
	// SiteURL prefixes relative URLs when Form is absolute.
	SiteURL string
	Form    URLForm
	// ForceRehash re-reads and re-hashes files that are already cached.
	ForceRehash bool
	// MaxSize rejects larger files locally. Zero means no limit.
	MaxSize int64
	Logger  *slog.Logger
}

// Asset is a resolved media reference.
type Asset struct {
	Ref string `json:"ref"`
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Document is the part of a payload the Rewriter works on.
type Document struct {
	Content string
	// Fields are metadata fields that may hold a bare media path. Only
	// the names in MediaFields are inspected.
	Fields map[string]interface{}
	// MediaFields are inspected in order; the first one naming a
	// resolvable image becomes the primary asset.
	MediaFields []string
	// BaseDir is the directory relative paths are resolved against.
	BaseDir string
}

// Result is a rewritten Document.
type Result struct {
	Content string
	Fields  map[string]interface{}
	// Primary is the featured asset, or nil when none could be determined.
	Primary  *Asset
	Assets   []Asset
	Warnings []string
	// Uploaded counts assets that needed an upload call.
	Uploaded int
}

// Rewriter resolves local media references through the Upload Cache,
// uploading missing assets once per content hash.
type Rewriter struct {
	platform platform.Platform
	cache    *Cache
	opts     Options
	logger   *slog.Logger
	group    singleflight.Group
}

// NewRewriter creates a Rewriter.
func NewRewriter(p platform.Platform, cache *Cache, opts Options) *Rewriter {
	if opts.Form == "" {
		opts.Form = URLRelative
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{platform: p, cache: cache, opts: opts, logger: logger.With("component", "media")}
}

// Rewrite replaces every local media reference in doc with its remote URL.
// A missing local file fails the call; an upload failure leaves that one
// reference unchanged and adds a warning.
func (rw *Rewriter) Rewrite(ctx context.Context, doc Document) (*Result, error) {
	res := &Result{Content: doc.Content, Fields: make(map[string]interface{}, len(doc.Fields))}
	for k, v := range doc.Fields {
		res.Fields[k] = v
	}

	var fieldPrimary *Asset
	for _, field := range doc.MediaFields {
		ref := models.StringField(doc.Fields, field)
		if ref == "" || !IsLocalMedia(ref) {
			continue
		}
		asset, ok, err := rw.resolveRef(ctx, doc.BaseDir, ref, res)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		res.Fields[field] = asset.URL
		if fieldPrimary == nil && strings.HasPrefix(MediaType(ref), "image/") {
			a := asset
			fieldPrimary = &a
		}
	}

	var contentPrimary *Asset
	matches := Scan(doc.Content)
	replacements := make([]string, len(matches))
	resolved := make([]bool, len(matches))
	for i, m := range matches {
		asset, ok, err := rw.resolveRef(ctx, doc.BaseDir, m.Path, res)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		replacements[i] = asset.URL
		resolved[i] = true
		if contentPrimary == nil {
			a := asset
			contentPrimary = &a
		}
	}
	// Replace from the end so earlier offsets stay valid.
	content := doc.Content
	for i := len(matches) - 1; i >= 0; i-- {
		if !resolved[i] {
			continue
		}
		m := matches[i]
		content = content[:m.Start] + replacements[i] + content[m.End:]
	}
	res.Content = content

	res.Primary = fieldPrimary
	if res.Primary == nil {
		res.Primary = contentPrimary
	}
	return res, nil
}

// resolveRef resolves one reference, recording it in res. ok is false when
// the asset failed non-fatally.
func (rw *Rewriter) resolveRef(ctx context.Context, baseDir, ref string, res *Result) (Asset, bool, error) {
	entry, uploaded, err := rw.Resolve(ctx, baseDir, ref)
	if err != nil {
		if errors.Is(err, ErrLocalMedia) || ctx.Err() != nil {
			return Asset{}, false, err
		}
		rw.logger.Warn("media left unrewritten", "ref", ref, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("media %q left unrewritten: %v", ref, err))
		return Asset{}, false, nil
	}
	if uploaded {
		res.Uploaded++
	}
	asset := Asset{Ref: ref, ID: entry.ID, URL: rw.render(entry.URL)}
	res.Assets = append(res.Assets, asset)
	return asset, true, nil
}

// Resolve returns the cache entry for a reference, uploading the file if
// its content is not cached yet. uploaded reports whether an upload call
// was made.
func (rw *Rewriter) Resolve(ctx context.Context, baseDir, ref string) (Entry, bool, error) {
	basename := Basename(ref)
	cached, hit := rw.cache.Get(basename)
	if hit && cached.Hash != "" && !rw.opts.ForceRehash {
		return cached, false, nil
	}

	file, err := rw.locate(baseDir, ref)
	if err != nil {
		return Entry{}, false, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading %s: %v: %w", file, err, ErrLocalMedia)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if hit && cached.Hash == hash {
		return cached, false, nil
	}
	if known, ok := rw.cache.ByHash(hash); ok {
		alias := known
		alias.Filename = basename
		if err := rw.cache.Put(basename, alias); err != nil {
			return Entry{}, false, err
		}
		rw.logger.Debug("media deduplicated by hash", "ref", ref, "url", known.URL)
		return alias, false, nil
	}

	if rw.opts.MaxSize > 0 && int64(len(data)) > rw.opts.MaxSize {
		return Entry{}, false, fmt.Errorf("%s is %d bytes, limit %d: %w", basename, len(data), rw.opts.MaxSize, ErrTooLarge)
	}

	uploaded := false
	v, err, _ := rw.group.Do(hash, func() (interface{}, error) {
		if known, ok := rw.cache.ByHash(hash); ok {
			return known, nil
		}
		uploaded = true
		item, err := rw.platform.UploadMedia(ctx, basename, MediaType(ref), data)
		if err != nil {
			return Entry{}, fmt.Errorf("uploading %s: %w", basename, err)
		}
		e := Entry{
			Hash:       hash,
			Filename:   basename,
			URL:        relativeURL(item.SourceURL()),
			ID:         item.ID(),
			UploadedAt: time.Now().UTC(),
		}
		if err := rw.cache.Put(basename, e); err != nil {
			return Entry{}, err
		}
		rw.logger.Info("uploaded media", "file", basename, "id", e.ID)
		return e, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	e := v.(Entry)
	if e.Filename != basename {
		e.Filename = basename
		if err := rw.cache.Put(basename, e); err != nil {
			return Entry{}, false, err
		}
	}
	return e, uploaded, nil
}

// locate finds the file for ref next to the record, then under Root.
func (rw *Rewriter) locate(baseDir, ref string) (string, error) {
	p := filepath.FromSlash(cleanPath(ref))
	var candidates []string
	if filepath.IsAbs(p) {
		candidates = append(candidates, p)
		if rw.opts.Root != "" {
			candidates = append(candidates, filepath.Join(rw.opts.Root, p))
		}
	} else {
		if baseDir != "" {
			candidates = append(candidates, filepath.Join(baseDir, p))
		}
		if rw.opts.Root != "" {
			candidates = append(candidates, filepath.Join(rw.opts.Root, p))
		}
		candidates = append(candidates, p)
	}
	if rw.opts.Root != "" {
		candidates = append(candidates, filepath.Join(rw.opts.Root, filepath.Base(p)))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%s not found: %w", ref, ErrLocalMedia)
}

// render turns a cached path-relative URL into the configured form.
func (rw *Rewriter) render(u string) string {
	if rw.opts.Form != URLAbsolute || rw.opts.SiteURL == "" || !strings.HasPrefix(u, "/") {
		return u
	}
	return strings.TrimRight(rw.opts.SiteURL, "/") + u
}

// relativeURL strips scheme and host so cached URLs stay portable across
// environments.
func relativeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	rel := u.EscapedPath()
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	return rel
}
