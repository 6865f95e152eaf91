package mapping

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateFields are normalised from YYYY-MM-DD to a full local timestamp.
var dateFields = []string{"date", "modified"}

// Payload is the platform-facing form of one record, before references
// and media are resolved.
type Payload struct {
	SourceID   string
	Type       string
	Collection string
	Slug       string
	Title      string
	ExternalID string
	// Fields are top-level entity fields, including title, slug, status
	// and content.
	Fields map[string]interface{}
	Meta   map[string]interface{}
	// Media holds media-capable fields that are not meta (e.g. featured_image).
	Media       map[string]interface{}
	MediaFields []string
	Refs        []models.Reference
	BaseDir     string
}

// Content returns the entity body.
func (p *Payload) Content() string {
	return models.StringField(p.Fields, "content")
}

// SetContent replaces the entity body.
func (p *Payload) SetContent(s string) {
	p.Fields["content"] = s
}

// MediaDocument returns every field the media rewriter may rewrite.
func (p *Payload) MediaDocument() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Meta)+len(p.Media))
	for k, v := range p.Media {
		out[k] = v
	}
	for k, v := range p.Meta {
		out[k] = v
	}
	return out
}

// ApplyMedia writes rewritten media fields back to meta.
func (p *Payload) ApplyMedia(fields map[string]interface{}) {
	for k := range p.Meta {
		if v, ok := fields[k]; ok {
			p.Meta[k] = v
		}
	}
	for k := range p.Media {
		if v, ok := fields[k]; ok {
			p.Media[k] = v
		}
	}
}

// Body returns the request body: the top-level fields with meta nested.
// Media-only fields are not sent.
func (p *Payload) Body() map[string]interface{} {
	body := make(map[string]interface{}, len(p.Fields)+1)
	for k, v := range p.Fields {
		body[k] = v
	}
	if len(p.Meta) > 0 {
		meta := make(map[string]interface{}, len(p.Meta))
		for k, v := range p.Meta {
			meta[k] = v
		}
		body["meta"] = meta
	}
	return body
}

// Prepare validates a record against its entity type and builds the
// payload. References for taxonomy values and the author are derived
// from the mapped fields and appended to the record's own references.
func (c *Config) Prepare(rec *models.Record) (*Payload, error) {
	et, err := c.Lookup(rec.Type)
	if err != nil {
		return nil, err
	}

	src := make(map[string]interface{}, len(rec.Fields))
	for k, v := range rec.Fields {
		src[k] = v
	}
	for _, name := range et.Required {
		if isEmpty(src[name]) {
			return nil, fmt.Errorf("%s %s: %w: %s", et.Name, rec.SourceID, ErrMissingField, name)
		}
	}
	for from, to := range et.Renames {
		if v, ok := src[from]; ok {
			if _, taken := src[to]; !taken {
				src[to] = v
			}
			delete(src, from)
		}
	}

	p := &Payload{
		SourceID:    rec.SourceID,
		Type:        et.Name,
		Collection:  et.Endpoint,
		Fields:      make(map[string]interface{}),
		Meta:        make(map[string]interface{}),
		Media:       make(map[string]interface{}),
		MediaFields: et.MediaFields,
	}
	if rec.Path != "" {
		p.BaseDir = filepath.Dir(rec.Path)
	}

	for k, v := range et.Defaults {
		p.Fields[k] = v
	}
	for _, name := range et.Fields {
		if v, ok := src[name]; ok && !isEmpty(v) {
			p.Fields[name] = v
		}
	}
	for _, name := range dateFields {
		if s, ok := p.Fields[name].(string); ok && dateOnly.MatchString(s) {
			p.Fields[name] = s + "T10:00:00"
		}
	}

	p.Title = models.StringField(src, "title")
	if p.Title != "" {
		p.Fields["title"] = p.Title
	}
	p.Slug = models.StringField(src, "slug")
	if p.Slug == "" {
		p.Slug = models.Slugify(p.Title)
	}
	if p.Slug == "" {
		return nil, fmt.Errorf("%s %s: %w: slug (no title to derive it from)", et.Name, rec.SourceID, ErrMissingField)
	}
	p.Fields["slug"] = p.Slug

	if status := models.StringField(src, "status"); status != "" {
		p.Fields["status"] = status
	} else if _, ok := p.Fields["status"]; !ok {
		p.Fields["status"] = c.DefaultStatus
	}
	for _, name := range et.ExcerptFrom {
		if s := models.StringField(src, name); s != "" {
			p.Fields["excerpt"] = s
			break
		}
	}
	p.Fields["content"] = rec.Content

	p.ExternalID = models.StringField(src, "external_id")
	if p.ExternalID == "" {
		p.ExternalID = rec.SourceID
	}
	p.Meta[c.ExternalIDMeta] = p.ExternalID

	joined := make(map[string]bool, len(et.Join))
	for _, name := range et.Join {
		joined[name] = true
	}
	for _, name := range et.Meta {
		v, ok := src[name]
		if !ok || isEmpty(v) {
			continue
		}
		if joined[name] {
			if list := models.StringsField(src, name); list != nil {
				v = strings.Join(list, ", ")
			}
		}
		p.Meta[name] = v
	}
	metaSet := make(map[string]bool, len(et.Meta))
	for _, name := range et.Meta {
		metaSet[name] = true
	}
	for _, name := range et.MediaFields {
		if metaSet[name] {
			continue
		}
		if s := models.StringField(src, name); s != "" {
			p.Media[name] = s
		}
	}

	taxFields := make([]string, 0, len(et.Taxonomies))
	for field := range et.Taxonomies {
		taxFields = append(taxFields, field)
	}
	sort.Strings(taxFields)
	for _, field := range taxFields {
		taxonomy := et.Taxonomies[field]
		for _, term := range models.StringsField(src, field) {
			if strings.TrimSpace(term) == "" {
				continue
			}
			p.Refs = append(p.Refs, models.Reference{Kind: models.TaxonomyKind(taxonomy), Name: term})
		}
	}
	if et.Author != "" {
		if authors := models.StringsField(src, et.Author); len(authors) > 0 && strings.TrimSpace(authors[0]) != "" {
			p.Refs = append(p.Refs, models.Reference{
				Kind:     models.RefAuthor,
				Name:     authors[0],
				Critical: !et.AuthorOptional,
			})
		}
	}
	for _, ref := range rec.Refs {
		if !ref.Kind.Valid() {
			return nil, fmt.Errorf("%s %s: invalid reference kind %q", et.Name, rec.SourceID, ref.Kind)
		}
		if ref.Kind == models.RefMedia {
			if ref.Field == "" {
				ref.Field = "featured_image"
			}
			if _, ok := p.Media[ref.Field]; !ok {
				p.Media[ref.Field] = ref.Name
			}
			if !contains(p.MediaFields, ref.Field) {
				p.MediaFields = append(append([]string(nil), p.MediaFields...), ref.Field)
			}
			continue
		}
		p.Refs = append(p.Refs, ref)
	}
	return p, nil
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
