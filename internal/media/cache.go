package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/utils/v4"
)

// Entry is one uploaded asset as recorded in the Upload Cache.
type Entry struct {
	Hash       string    `json:"hash"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	ID         int       `json:"id"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Cache is the persistent Upload Cache: media basename → uploaded asset,
// with a secondary index by content hash. Writers are serialized and each
// Put is on disk before it becomes visible to readers.
type Cache struct {
	path     string
	readOnly bool

	writeMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]Entry
	byHash  map[string]Entry
}

// LoadCache reads the cache file at path. A missing file yields an empty
// cache. A read-only cache never writes the file back.
func LoadCache(path string, readOnly bool) (*Cache, error) {
	c := &Cache{
		path:     path,
		readOnly: readOnly,
		entries:  make(map[string]Entry),
		byHash:   make(map[string]Entry),
	}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading upload cache: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("parsing upload cache %s: %w", path, err)
	}
	for _, e := range c.entries {
		if e.Hash != "" {
			if _, ok := c.byHash[e.Hash]; !ok {
				c.byHash[e.Hash] = e
			}
		}
	}
	return c, nil
}

// Get returns the entry for a basename.
func (c *Cache) Get(basename string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[basename]
	return e, ok
}

// ByHash returns an entry with the given content hash.
func (c *Cache) ByHash(hash string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byHash[hash]
	return e, ok
}

// ReadOnlyCopy returns a cache holding the current entries that never
// writes to disk. Dry runs resolve against it so their provisional
// uploads are not persisted.
func (c *Cache) ReadOnlyCopy() *Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := &Cache{
		path:     c.path,
		readOnly: true,
		entries:  make(map[string]Entry, len(c.entries)),
		byHash:   make(map[string]Entry, len(c.byHash)),
	}
	for k, v := range c.entries {
		cp.entries[k] = v
	}
	for k, v := range c.byHash {
		cp.byHash[k] = v
	}
	return cp
}

// Len returns the number of cached basenames.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Put records an entry under basename and writes the whole cache to disk
// before returning.
func (c *Cache) Put(basename string, e Entry) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	next := make(map[string]Entry, len(c.entries)+1)
	for k, v := range c.entries {
		next[k] = v
	}
	c.mu.RUnlock()
	next[basename] = e

	if err := c.write(next); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = next
	if e.Hash != "" {
		if _, ok := c.byHash[e.Hash]; !ok {
			c.byHash[e.Hash] = e
		}
	}
	c.mu.Unlock()
	return nil
}

// Flush writes the current snapshot to disk.
func (c *Cache) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	snapshot := c.entries
	c.mu.RUnlock()
	return c.write(snapshot)
}

func (c *Cache) write(entries map[string]Entry) error {
	if c.readOnly || c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding upload cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating upload cache dir: %w", err)
	}
	if err := utils.AtomicWriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("writing upload cache: %w", err)
	}
	return nil
}
