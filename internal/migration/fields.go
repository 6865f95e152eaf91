package migration

import (
	"github.com/rflorenc/content-migration-workbench/internal/mapping"
	"github.com/rflorenc/content-migration-workbench/internal/media"
	"github.com/rflorenc/content-migration-workbench/internal/resolver"
)

// featuredMediaField is the payload field holding the primary asset id.
const featuredMediaField = "featured_media"

// applyResolution writes resolved reference ids into the payload. Ids
// from the references replace any literal value for the same field.
func applyResolution(p *mapping.Payload, res *resolver.Resolution) {
	for field, v := range res.Fields {
		p.Fields[field] = v
	}
}

// applyMedia writes rewritten content and media fields back into the
// payload and sets the featured media from the primary asset.
func applyMedia(p *mapping.Payload, res *media.Result) {
	p.SetContent(res.Content)
	p.ApplyMedia(res.Fields)
	if res.Primary != nil {
		p.Fields[featuredMediaField] = res.Primary.ID
	}
}

// mediaDocument builds the rewriter input for a payload.
func mediaDocument(p *mapping.Payload) media.Document {
	return media.Document{
		Content:     p.Content(),
		Fields:      p.MediaDocument(),
		MediaFields: p.MediaFields,
		BaseDir:     p.BaseDir,
	}
}

// mergeWarnings appends the non-empty warning lists in order.
func mergeWarnings(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
