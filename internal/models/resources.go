package models

// Resource represents a generic entity returned by the remote platform
// (post, page, term, user, media item).
type Resource map[string]interface{}

// ID returns the remote identifier of the resource, or 0 if absent.
func (r Resource) ID() int {
	return toInt(r["id"])
}

// Name returns the display name of a term or user resource.
func (r Resource) Name() string {
	if n, ok := r["name"].(string); ok {
		return n
	}
	if u, ok := r["username"].(string); ok {
		return u
	}
	return ""
}

// Slug returns the resource slug.
func (r Resource) Slug() string {
	return StringField(r, "slug")
}

// Title returns the plain title of a content entity. The remote may
// return either a bare string or an object with a "rendered" key.
func (r Resource) Title() string {
	switch t := r["title"].(type) {
	case string:
		return t
	case map[string]interface{}:
		if v, ok := t["raw"].(string); ok {
			return v
		}
		if v, ok := t["rendered"].(string); ok {
			return v
		}
	}
	return ""
}

// SourceURL returns the public URL of a media resource.
func (r Resource) SourceURL() string {
	return StringField(r, "source_url")
}

// Meta returns the meta namespace of a content entity, or nil.
func (r Resource) Meta() map[string]interface{} {
	m, _ := r["meta"].(map[string]interface{})
	return m
}
