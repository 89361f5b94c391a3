// Package storage defines the persistence port used by the search engine and
// conflict resolver, and a LevelDB-backed implementation. Keys use a
// "|"-separated prefix scheme (m|, t|, g|) so the primary record and its
// trigram/tag inverted indexes share one keyspace and commit atomically
// in a single batch.
package storage

import (
	"context"
	"time"

	"github.com/kestrel-dev/agentmem/internal/memory"
)

// Stats summarizes the stored population.
type Stats struct {
	Count       int       `json:"count"`
	AvgStrength float64   `json:"avg_strength"`
	WeakCount   int       `json:"weak_count"`
	Oldest      time.Time `json:"oldest"`
	Newest      time.Time `json:"newest"`
	Bytes       int64     `json:"bytes"`
}

// Port is the persistence contract. All operations may fail with a storage
// error; the LevelDB implementation returns it wrapped as
// memerr.StorageUnavailable.
type Port interface {
	Get(ctx context.Context, id string) (*memory.Memory, error)
	GetAll(ctx context.Context) ([]*memory.Memory, error)
	Save(ctx context.Context, m *memory.Memory) error
	Delete(ctx context.Context, id string) (bool, error)

	// ScanByTrigrams returns every memory sharing at least one trigram with
	// querySet (OR-semantics), up to limit. Order is unspecified.
	ScanByTrigrams(ctx context.Context, querySet []string, limit int) ([]*memory.Memory, error)
	// ScanBySubstring returns memories whose content_normalized contains
	// normalizedQuery as a substring, up to limit.
	ScanBySubstring(ctx context.Context, normalizedQuery string, limit int) ([]*memory.Memory, error)
	// ScanByTags returns memories carrying any of tags (case-insensitive),
	// up to limit.
	ScanByTags(ctx context.Context, tags []string, limit int) ([]*memory.Memory, error)
	// ScanWeak returns memories with current strength below threshold, up to
	// limit.
	ScanWeak(ctx context.Context, threshold float64, limit int, now time.Time) ([]*memory.Memory, error)

	// Stats aggregates over the whole population; a memory counts as weak
	// when its current strength falls below weakThreshold.
	Stats(ctx context.Context, weakThreshold float64, now time.Time) (Stats, error)
	Compact(ctx context.Context) error

	Close() error
}
