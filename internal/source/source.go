// Package source reads normalized records from JSON and YAML files.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// ErrUnsupportedFormat is returned for a file that is neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported record file format")

// rawRecord is the on-disk record shape. Content may be given inline or
// as a path to a rendered HTML file next to the record.
type rawRecord struct {
	SourceID    string                 `json:"source_id" yaml:"source_id"`
	Type        string                 `json:"type" yaml:"type"`
	Fields      map[string]interface{} `json:"fields" yaml:"fields"`
	Refs        []models.Reference     `json:"refs" yaml:"refs"`
	Content     string                 `json:"content" yaml:"content"`
	ContentFile string                 `json:"content_file" yaml:"content_file"`
}

// Loader reads record files below BaseDir.
type Loader struct {
	BaseDir string
}

// NewLoader returns a Loader rooted at baseDir ("." if empty).
func NewLoader(baseDir string) *Loader {
	if baseDir == "" {
		baseDir = "."
	}
	return &Loader{BaseDir: baseDir}
}

// Load reads every record file at path. A directory is walked in lexical
// order; files with other extensions are ignored there. Relative paths
// resolve against BaseDir.
func (l *Loader) Load(ctx context.Context, path string) ([]*models.Record, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.BaseDir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open records %s: %w", path, err)
	}
	if !info.IsDir() {
		return l.LoadFile(ctx, path)
	}

	var records []*models.Record
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isRecordFile(p) {
			return nil
		}
		recs, err := l.LoadFile(ctx, p)
		if err != nil {
			return err
		}
		records = append(records, recs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LoadFile reads one JSON or YAML file holding a record or a list of
// records. YAML files may also hold several documents.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]*models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	var raws []rawRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raws, err = decodeJSON(ctx, f)
	case ".yaml", ".yml":
		raws, err = decodeYAML(f)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	records := make([]*models.Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := l.toRecord(path, i, len(raws), raw)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeJSON accepts a single object or an array, streaming the array.
func decodeJSON(ctx context.Context, r io.Reader) ([]rawRecord, error) {
	br := bufio.NewReader(r)
	first, err := firstByte(br)
	if err != nil {
		return nil, fmt.Errorf("read json start token: %w", err)
	}
	dec := json.NewDecoder(br)
	dec.UseNumber()

	switch first {
	case '{':
		var raw rawRecord
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		return []rawRecord{raw}, nil
	case '[':
	default:
		return nil, errors.New("record file must hold a JSON object or array")
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read json start token: %w", err)
	}
	var raws []rawRecord
	for index := 0; dec.More(); index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var raw rawRecord
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode record at index %d: %w", index, err)
		}
		raws = append(raws, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read json end token: %w", err)
	}
	return raws, nil
}

// firstByte peeks at the first non-space byte without consuming it.
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func decodeYAML(r io.Reader) ([]rawRecord, error) {
	dec := yaml.NewDecoder(r)
	var raws []rawRecord
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}
		switch node.Content[0].Kind {
		case yaml.SequenceNode:
			var list []rawRecord
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("decode records: %w", err)
			}
			raws = append(raws, list...)
		case yaml.MappingNode:
			var raw rawRecord
			if err := node.Decode(&raw); err != nil {
				return nil, fmt.Errorf("decode record: %w", err)
			}
			raws = append(raws, raw)
		default:
			return nil, errors.New("record document must be a mapping or a list")
		}
	}
	return raws, nil
}

// toRecord assigns the source identity: an explicit source_id, then the
// external_id field, then the file path relative to BaseDir (with the
// index appended for multi-record files).
func (l *Loader) toRecord(path string, index, count int, raw rawRecord) (*models.Record, error) {
	if strings.TrimSpace(raw.Type) == "" {
		return nil, errors.New("missing type")
	}
	fields := raw.Fields
	if fields == nil {
		fields = make(map[string]interface{})
	}
	normalizeNumbers(fields)

	id := strings.TrimSpace(raw.SourceID)
	if id == "" {
		id = strings.TrimSpace(models.StringField(fields, "external_id"))
	}
	if id == "" {
		id = l.pathIdentity(path)
		if count > 1 {
			id = fmt.Sprintf("%s#%d", id, index)
		}
	}

	content := raw.Content
	if raw.ContentFile != "" {
		p := raw.ContentFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read content: %w", err)
		}
		content = string(data)
	}

	return &models.Record{
		SourceID: id,
		Type:     strings.TrimSpace(raw.Type),
		Fields:   fields,
		Refs:     raw.Refs,
		Content:  content,
		Path:     path,
	}, nil
}

func (l *Loader) pathIdentity(path string) string {
	rel, err := filepath.Rel(l.BaseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.ToSlash(rel)
}

// normalizeNumbers turns whole json.Number values into ints and the rest
// into float64, so payload values encode the way they were written.
func normalizeNumbers(m map[string]interface{}) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		normalizeNumbers(t)
		return t
	case []interface{}:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	}
	return v
}

func isRecordFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Duplicates returns the source identities that occur more than once,
// in first-seen order.
func Duplicates(records []*models.Record) []string {
	seen := make(map[string]int, len(records))
	var dups []string
	for _, rec := range records {
		seen[rec.SourceID]++
		if seen[rec.SourceID] == 2 {
			dups = append(dups, rec.SourceID)
		}
	}
	return dups
}
