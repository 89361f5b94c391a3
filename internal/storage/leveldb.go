package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/kestrel-dev/agentmem/internal/memerr"
	"github.com/kestrel-dev/agentmem/internal/memory"
)

// Key prefix scheme: a "|"-separated convention so stored identifiers never
// collide with the separator:
//
//	m|<id>             → Memory JSON (primary record)
//	t|<trigram>|<id>   → nil (trigram inverted index)
//	g|<tag_lower>|<id> → nil (tag inverted index)
const (
	prefixMemory  = "m|"
	prefixTrigram = "t|"
	prefixTag     = "g|"
)

// LevelDB is a Port backed by a single-writer embedded LevelDB database.
// Per-id write ordering is serialized by mu, matching the shared-resource
// policy that the storage port must provide its own internal serialization.
type LevelDB struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at dbPath.
func OpenLevelDB(dbPath string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, memerr.Wrap(memerr.StorageUnavailable, fmt.Sprintf("open leveldb at %s", dbPath), err)
	}
	return &LevelDB{db: db}, nil
}

func (s *LevelDB) Close() error {
	if err := s.db.Close(); err != nil {
		return memerr.Wrap(memerr.StorageUnavailable, "close leveldb", err)
	}
	return nil
}

func memoryKey(id string) string         { return prefixMemory + id }
func trigramKey(tg, id string) string    { return prefixTrigram + tg + "|" + id }
func trigramPrefix(tg string) string     { return prefixTrigram + tg + "|" }
func tagKey(tagLower, id string) string  { return prefixTag + tagLower + "|" + id }
func tagPrefix(tagLower string) string   { return prefixTag + tagLower + "|" }

func idFromIndexKey(fullKey, prefix string) string {
	if !strings.HasPrefix(fullKey, prefix) {
		return ""
	}
	return fullKey[len(prefix):]
}

func (s *LevelDB) fetch(id string) (*memory.Memory, error) {
	data, err := s.db.Get([]byte(memoryKey(id)), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, memerr.Wrap(memerr.StorageUnavailable, "get memory", err)
	}
	var m memory.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, memerr.Wrap(memerr.StorageUnavailable, "decode memory", err)
	}
	m.HydrateTrigrams()
	return &m, nil
}

func (s *LevelDB) Get(ctx context.Context, id string) (*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fetch(id)
}

// GetAll scans every primary record. Bounded use only, per the port's
// contract — callers must not put this on a hot path.
func (s *LevelDB) GetAll(ctx context.Context) ([]*memory.Memory, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixMemory)), nil)
	defer iter.Release()

	var out []*memory.Memory
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m memory.Memory
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		m.HydrateTrigrams()
		out = append(out, &m)
	}
	if err := iter.Error(); err != nil {
		return nil, memerr.Wrap(memerr.StorageUnavailable, "scan all", err)
	}
	return out, nil
}

// Save inserts or replaces m, maintaining the trigram and tag indexes as a
// single atomic batch. Any previous index entries for this id are removed
// first so stale index rows never accumulate.
func (s *LevelDB) Save(ctx context.Context, m *memory.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, err := s.fetch(m.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return memerr.Wrap(memerr.StorageUnavailable, "encode memory", err)
	}

	batch := new(leveldb.Batch)
	if prior != nil {
		for tg := range prior.Trigrams {
			batch.Delete([]byte(trigramKey(tg, prior.ID)))
		}
		for _, tag := range prior.Tags {
			batch.Delete([]byte(tagKey(strings.ToLower(tag), prior.ID)))
		}
	}

	batch.Put([]byte(memoryKey(m.ID)), data)
	for tg := range m.Trigrams {
		batch.Put([]byte(trigramKey(tg, m.ID)), nil)
	}
	for _, tag := range m.Tags {
		batch.Put([]byte(tagKey(strings.ToLower(tag), m.ID)), nil)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return memerr.Wrap(memerr.StorageUnavailable, "save memory", err)
	}
	return nil
}

func (s *LevelDB) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.fetch(id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(memoryKey(id)))
	for tg := range m.Trigrams {
		batch.Delete([]byte(trigramKey(tg, id)))
	}
	for _, tag := range m.Tags {
		batch.Delete([]byte(tagKey(strings.ToLower(tag), id)))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, memerr.Wrap(memerr.StorageUnavailable, "delete memory", err)
	}
	return true, nil
}

func (s *LevelDB) ScanByTrigrams(ctx context.Context, querySet []string, limit int) ([]*memory.Memory, error) {
	seen := make(map[string]struct{})
	var out []*memory.Memory
	for _, tg := range querySet {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iter := s.db.NewIterator(util.BytesPrefix([]byte(trigramPrefix(tg))), nil)
		for iter.Next() {
			id := idFromIndexKey(string(iter.Key()), trigramPrefix(tg))
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			m, err := s.fetch(id)
			if err != nil || m == nil {
				continue
			}
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				iter.Release()
				return out, nil
			}
		}
		err := iter.Error()
		iter.Release()
		if err != nil {
			return nil, memerr.Wrap(memerr.StorageUnavailable, "scan trigrams", err)
		}
	}
	return out, nil
}

func (s *LevelDB) ScanBySubstring(ctx context.Context, normalizedQuery string, limit int) ([]*memory.Memory, error) {
	if normalizedQuery == "" {
		return nil, nil
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixMemory)), nil)
	defer iter.Release()

	var out []*memory.Memory
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m memory.Memory
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if strings.Contains(m.ContentNormalized, normalizedQuery) {
			m.HydrateTrigrams()
			out = append(out, &m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	if err := iter.Error(); err != nil {
		return nil, memerr.Wrap(memerr.StorageUnavailable, "scan substring", err)
	}
	return out, nil
}

func (s *LevelDB) ScanByTags(ctx context.Context, tags []string, limit int) ([]*memory.Memory, error) {
	seen := make(map[string]struct{})
	var out []*memory.Memory
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lower := strings.ToLower(tag)
		iter := s.db.NewIterator(util.BytesPrefix([]byte(tagPrefix(lower))), nil)
		for iter.Next() {
			id := idFromIndexKey(string(iter.Key()), tagPrefix(lower))
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			m, err := s.fetch(id)
			if err != nil || m == nil {
				continue
			}
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				iter.Release()
				return out, nil
			}
		}
		err := iter.Error()
		iter.Release()
		if err != nil {
			return nil, memerr.Wrap(memerr.StorageUnavailable, "scan tags", err)
		}
	}
	return out, nil
}

func (s *LevelDB) ScanWeak(ctx context.Context, threshold float64, limit int, now time.Time) ([]*memory.Memory, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixMemory)), nil)
	defer iter.Release()

	var out []*memory.Memory
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m memory.Memory
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.CurrentStrength(now) < threshold {
			m.HydrateTrigrams()
			out = append(out, &m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	if err := iter.Error(); err != nil {
		return nil, memerr.Wrap(memerr.StorageUnavailable, "scan weak", err)
	}
	return out, nil
}

func (s *LevelDB) Stats(ctx context.Context, weakThreshold float64, now time.Time) (Stats, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixMemory)), nil)
	defer iter.Release()

	var st Stats
	var strengthSum float64
	var sizeBytes int64
	first := true
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		var m memory.Memory
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		st.Count++
		strengthSum += m.CurrentStrength(now)
		if m.CurrentStrength(now) < weakThreshold {
			st.WeakCount++
		}
		sizeBytes += int64(len(iter.Value()))
		if first || m.CreatedAt.Before(st.Oldest) {
			st.Oldest = m.CreatedAt
		}
		if first || m.CreatedAt.After(st.Newest) {
			st.Newest = m.CreatedAt
		}
		first = false
	}
	if err := iter.Error(); err != nil {
		return Stats{}, memerr.Wrap(memerr.StorageUnavailable, "stats scan", err)
	}
	if st.Count > 0 {
		st.AvgStrength = strengthSum / float64(st.Count)
	}
	st.Bytes = sizeBytes
	return st, nil
}

func (s *LevelDB) Compact(ctx context.Context) error {
	if err := s.db.CompactRange(util.Range{}); err != nil {
		return memerr.Wrap(memerr.StorageUnavailable, "compact", err)
	}
	return nil
}
