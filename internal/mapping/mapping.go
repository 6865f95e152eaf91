// Package mapping holds the declarative field and taxonomy mapping per
// target entity type and turns a Record into a platform payload.
package mapping

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

var (
	//go:embed schema.json
	schemaJSON string
	//go:embed default.yaml
	defaultYAML []byte
)

const schemaURL = "https://content-migration-workbench.local/mapping.schema.json"

var (
	// ErrInvalidMapping is returned when a mapping file fails validation.
	ErrInvalidMapping = errors.New("invalid mapping")
	// ErrUnknownEntityType is returned for record types with no mapping.
	ErrUnknownEntityType = errors.New("unknown entity type")
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")
)

// EntityType maps one record type onto a platform collection.
type EntityType struct {
	Name string `yaml:"-"`
	// Endpoint is the REST collection, e.g. "posts".
	Endpoint string   `yaml:"endpoint"`
	Aliases  []string `yaml:"aliases"`
	Required []string `yaml:"required"`
	// Fields are copied to the payload unchanged (after renames).
	Fields  []string          `yaml:"fields"`
	Renames map[string]string `yaml:"renames"`
	// ExcerptFrom lists fields tried in order for the excerpt.
	ExcerptFrom []string `yaml:"excerpt_from"`
	Meta        []string `yaml:"meta"`
	// Join lists meta fields whose list values are joined with ", ".
	Join []string `yaml:"join"`
	// Taxonomies maps a record field to the taxonomy its values name.
	Taxonomies     map[string]string      `yaml:"taxonomies"`
	Author         string                 `yaml:"author"`
	AuthorOptional bool                   `yaml:"author_optional"`
	MediaFields    []string               `yaml:"media_fields"`
	Defaults       map[string]interface{} `yaml:"defaults"`
}

// Config is a validated mapping.
type Config struct {
	ExternalIDMeta string                 `yaml:"external_id_meta"`
	DefaultStatus  string                 `yaml:"default_status"`
	Types          map[string]*EntityType `yaml:"types"`

	aliases map[string]string
}

// mappingSchema is compiled once from the embedded schema document.
var mappingSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("failed to load mapping schema: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("failed to compile mapping schema: %v", err))
	}
	return s
}

// Default returns the built-in mapping for post, page, event and podcast.
func Default() *Config {
	cfg, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in mapping: %v", err))
	}
	return cfg
}

// LoadFile reads and validates a mapping file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML mapping data against the schema and decodes it.
func Parse(data []byte) (*Config, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	// Round-trip through JSON so the validator sees JSON value types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance interface{}
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if err := mappingSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if cfg.ExternalIDMeta == "" {
		cfg.ExternalIDMeta = "_external_id"
	}
	if cfg.DefaultStatus == "" {
		cfg.DefaultStatus = "draft"
	}
	cfg.aliases = make(map[string]string)
	for name, et := range cfg.Types {
		et.Name = name
		for _, alias := range et.Aliases {
			if other, ok := cfg.aliases[alias]; ok && other != name {
				return nil, fmt.Errorf("%w: alias %q used by %s and %s", ErrInvalidMapping, alias, other, name)
			}
			if _, ok := cfg.Types[alias]; ok {
				return nil, fmt.Errorf("%w: alias %q shadows a type", ErrInvalidMapping, alias)
			}
			cfg.aliases[alias] = name
		}
	}
	return &cfg, nil
}

// Lookup returns the entity type for a record type name or alias.
func (c *Config) Lookup(recordType string) (*EntityType, error) {
	name := strings.ToLower(strings.TrimSpace(recordType))
	if canonical, ok := c.aliases[name]; ok {
		name = canonical
	}
	et, ok := c.Types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownEntityType, recordType, strings.Join(c.TypeNames(), ", "))
	}
	return et, nil
}

// TypeNames returns the canonical type names, sorted.
func (c *Config) TypeNames() []string {
	names := make([]string, 0, len(c.Types))
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
