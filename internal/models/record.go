package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// RefKind is the kind of a symbolic reference: "author", "media" or
// "taxonomy:<taxonomy-name>".
type RefKind string

const (
	RefAuthor RefKind = "author"
	RefMedia  RefKind = "media"

	taxonomyPrefix = "taxonomy:"
)

// TaxonomyKind returns the reference kind for terms of the named taxonomy.
func TaxonomyKind(taxonomy string) RefKind {
	return RefKind(taxonomyPrefix + taxonomy)
}

// Taxonomy returns the taxonomy name for a taxonomy kind.
func (k RefKind) Taxonomy() (string, bool) {
	if !strings.HasPrefix(string(k), taxonomyPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(string(k), taxonomyPrefix)
	return name, name != ""
}

// Valid reports whether k is one of the known reference kinds.
func (k RefKind) Valid() bool {
	if k == RefAuthor || k == RefMedia {
		return true
	}
	_, ok := k.Taxonomy()
	return ok
}

// Reference is an unresolved symbolic reference carried by a Record.
type Reference struct {
	Kind RefKind `json:"kind" yaml:"kind"`
	Name string  `json:"name" yaml:"name"`
	// Field is the payload field the resolved identifier is written to.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	// Critical references fail the record when they cannot be resolved.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`
}

// Record is the unit of migration: one normalized content document.
type Record struct {
	// SourceID is the stable source identity. It is never mutated once assigned.
	SourceID string `json:"source_id" yaml:"source_id"`
	// Type selects the target entity schema and endpoint ("post", "page", ...).
	Type string `json:"type" yaml:"type"`
	// Fields maps target field names to values before resolution.
	Fields map[string]interface{} `json:"fields" yaml:"fields"`
	// Refs are the unresolved symbolic references.
	Refs []Reference `json:"refs,omitempty" yaml:"refs,omitempty"`
	// Content is the rendered body.
	Content string `json:"content" yaml:"content"`
	// Path is the file the record was read from; relative media paths
	// resolve against its directory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Field returns a top-level field value as a string.
func (r *Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return StringField(r.Fields, name)
}

// ContentHash returns a SHA-256 digest over the record's type, fields,
// references and content. Map keys are encoded in sorted order, so the
// digest is stable for equal records.
func (r *Record) ContentHash() string {
	doc := struct {
		Type    string                 `json:"type"`
		Fields  map[string]interface{} `json:"fields"`
		Refs    []Reference            `json:"refs"`
		Content string                 `json:"content"`
	}{r.Type, r.Fields, r.Refs, r.Content}
	data, err := json.Marshal(doc)
	if err != nil {
		// Fields that cannot be encoded still hash deterministically on content.
		data = []byte(r.Type + "\x00" + r.Content)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
