package migration

import (
	"testing"

	"github.com/rflorenc/content-migration-workbench/internal/mapping"
	"github.com/rflorenc/content-migration-workbench/internal/media"
	"github.com/rflorenc/content-migration-workbench/internal/resolver"
)

func newPayload() *mapping.Payload {
	return &mapping.Payload{
		Fields:      map[string]interface{}{"title": "T", "content": "![x](./x.jpg)", "author": "literal"},
		Meta:        map[string]interface{}{"audio_url": "ep.mp3"},
		Media:       map[string]interface{}{"featured_image": "cover.jpg"},
		MediaFields: []string{"featured_image", "audio_url"},
		BaseDir:     "/content",
	}
}

func TestApplyResolution(t *testing.T) {
	p := newPayload()
	applyResolution(p, &resolver.Resolution{Fields: map[string]interface{}{
		"author": 7,
		"tags":   []int{1, 2},
	}})
	if got := p.Fields["author"]; got != 7 {
		t.Errorf("author = %v, want 7", got)
	}
	if got, ok := p.Fields["tags"].([]int); !ok || len(got) != 2 {
		t.Errorf("tags = %v, want [1 2]", p.Fields["tags"])
	}
	if got := p.Fields["title"]; got != "T" {
		t.Errorf("title = %v, want unchanged", got)
	}
}

func TestApplyMedia(t *testing.T) {
	p := newPayload()
	applyMedia(p, &media.Result{
		Content: "![x](/up/x.jpg)",
		Fields:  map[string]interface{}{"featured_image": "/up/cover.jpg", "audio_url": "/up/ep.mp3"},
		Primary: &media.Asset{Ref: "cover.jpg", ID: 55, URL: "/up/cover.jpg"},
	})
	if got := p.Content(); got != "![x](/up/x.jpg)" {
		t.Errorf("content = %q", got)
	}
	if got := p.Fields[featuredMediaField]; got != 55 {
		t.Errorf("featured_media = %v, want 55", got)
	}
	if got := p.Meta["audio_url"]; got != "/up/ep.mp3" {
		t.Errorf("audio_url = %v", got)
	}
	if _, ok := p.Body()["featured_image"]; ok {
		t.Error("featured_image must not be sent as a field")
	}
}

func TestApplyMedia_NoPrimary(t *testing.T) {
	p := newPayload()
	applyMedia(p, &media.Result{Content: "text", Fields: map[string]interface{}{}})
	if _, ok := p.Fields[featuredMediaField]; ok {
		t.Error("featured_media set without a primary asset")
	}
}

func TestMediaDocument(t *testing.T) {
	doc := mediaDocument(newPayload())
	if doc.BaseDir != "/content" {
		t.Errorf("BaseDir = %q", doc.BaseDir)
	}
	if doc.Fields["featured_image"] != "cover.jpg" || doc.Fields["audio_url"] != "ep.mp3" {
		t.Errorf("Fields = %v, want media and meta fields", doc.Fields)
	}
	if len(doc.MediaFields) != 2 {
		t.Errorf("MediaFields = %v", doc.MediaFields)
	}
}

func TestMergeWarnings(t *testing.T) {
	got := mergeWarnings(nil, []string{"a"}, nil, []string{"b", "c"})
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("mergeWarnings = %v", got)
	}
	if mergeWarnings() != nil {
		t.Error("mergeWarnings() should be nil")
	}
}
