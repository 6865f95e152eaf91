// Package ledger persists the mapping from source identity to remote
// entity. An entry is written only after a successful remote create or
// update, and every write is durable before Put returns.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// ErrLedgerWrite wraps every failure to persist an entry.
var ErrLedgerWrite = errors.New("ledger write failed")

// Entry is the ledger value for one source identity.
type Entry struct {
	RemoteID    int           `json:"remote_id"`
	ContentHash string        `json:"content_hash"`
	Action      models.Action `json:"action"`
	EntityType  string        `json:"entity_type,omitempty"`
	Slug        string        `json:"slug,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Store is a Migration Ledger backend. Implementations serialize writers
// and let readers proceed against the last written state.
type Store interface {
	Get(ctx context.Context, sourceID string) (Entry, bool, error)
	Put(ctx context.Context, sourceID string, e Entry) error
	All(ctx context.Context) (map[string]Entry, error)
	// Flush forces buffered state to stable storage.
	Flush(ctx context.Context) error
	Close() error
}

// Backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open opens the ledger at path with the named backend. An empty path
// with the JSON backend yields an in-memory ledger.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return OpenJSON(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// Unchanged reports whether the ledger already holds contentHash for a
// successfully migrated entity.
func Unchanged(e Entry, found bool, contentHash string) bool {
	return found && e.RemoteID > 0 && e.ContentHash == contentHash
}
