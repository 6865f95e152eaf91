package media

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutPersistsBeforeReturn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "uploads.json")
	c, err := LoadCache(path, false)
	require.NoError(t, err)

	e := Entry{Hash: "h1", Filename: "y.jpg", URL: "/wp-content/uploads/y.jpg", ID: 5, UploadedAt: time.Now().UTC()}
	require.NoError(t, c.Put("y.jpg", e))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]Entry
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 5, onDisk["y.jpg"].ID)

	reloaded, err := LoadCache(path, false)
	require.NoError(t, err)
	got, ok := reloaded.ByHash("h1")
	require.True(t, ok)
	assert.Equal(t, "/wp-content/uploads/y.jpg", got.URL)
}

func TestCache_ReadOnlyNeverWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.json")
	c, err := LoadCache(path, true)
	require.NoError(t, err)
	require.NoError(t, c.Put("x.jpg", Entry{Hash: "h", ID: 1}))

	_, ok := c.Get("x.jpg")
	assert.True(t, ok, "entry visible in memory")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "read-only cache must not create the file")
}

func TestCache_ReadOnlyCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.json")
	c, err := LoadCache(path, false)
	require.NoError(t, err)
	require.NoError(t, c.Put("a.jpg", Entry{Hash: "ha", ID: 1}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	cp := c.ReadOnlyCopy()
	require.NoError(t, cp.Put("b.jpg", Entry{Hash: "hb", ID: -1}))
	_, ok := cp.ByHash("ha")
	assert.True(t, ok, "copy starts from the current entries")

	_, ok = c.Get("b.jpg")
	assert.False(t, ok, "copy does not leak into the original")
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCache_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadCache(path, false)
	assert.Error(t, err)
}

func TestCache_ConcurrentPuts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.json")
	c, err := LoadCache(path, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a'+i)) + ".jpg"
			assert.NoError(t, c.Put(name, Entry{Hash: name, ID: i}))
			c.Get(name)
		}(i)
	}
	wg.Wait()

	reloaded, err := LoadCache(path, false)
	require.NoError(t, err)
	assert.Equal(t, 20, reloaded.Len(), "the file holds every entry after serialized writes")
}
