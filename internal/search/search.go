// Package search implements the multi-signal ranking pipeline: candidate
// gathering over the storage port's indexes, four-subscore scoring (fuzzy,
// strength, recency, semantic), and weighted combination. Candidates are
// unioned from trigram, substring, and tag scans, filtered for validity,
// then scored and ranked — rather than gathered from a single vector index.
package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kestrel-dev/agentmem/internal/embedding"
	"github.com/kestrel-dev/agentmem/internal/memerr"
	"github.com/kestrel-dev/agentmem/internal/memory"
	"github.com/kestrel-dev/agentmem/internal/reinforce"
	"github.com/kestrel-dev/agentmem/internal/storage"
	"github.com/kestrel-dev/agentmem/internal/trigram"
	"github.com/kestrel-dev/agentmem/internal/vectormath"
)

// DefaultTopN is used when the caller passes a non-positive top_n.
const DefaultTopN = 5

// MaxTopN bounds how many results a single search may request.
const MaxTopN = 100

// DefaultCandidateFactor multiplies top_n to size the candidate-gathering
// limit (configured via search.max_candidate_factor).
const DefaultCandidateFactor = 3

// minWordLen is the shortest token considered for per-word trigram scans
// and fuzzy word-fraction signals.
const minWordLen = 3

// Result is one ranked search hit with its subscores exposed for
// diagnostics and testing.
type Result struct {
	Memory   *memory.Memory `json:"memory"`
	Score    float64        `json:"score"`
	Fuzzy    float64        `json:"fuzzy"`
	Strength float64        `json:"strength"`
	Recency  float64        `json:"recency"`
	Semantic float64        `json:"semantic"`
}

// Engine is the search pipeline, composed over the storage and embedding
// ports and a reinforcement queue for the fire-and-forget side effect.
type Engine struct {
	Store           storage.Port
	Embedder        embedding.Embedder
	Reinforce       *reinforce.Queue
	CandidateFactor int
}

// New builds an Engine with package defaults applied where fields are zero.
func New(store storage.Port, embedder embedding.Embedder, queue *reinforce.Queue) *Engine {
	return &Engine{Store: store, Embedder: embedder, Reinforce: queue, CandidateFactor: DefaultCandidateFactor}
}

// Search runs the ranking pipeline for query, returning up to topN results.
// An empty or whitespace-only query returns an empty, non-error result.
func (e *Engine) Search(ctx context.Context, query string, topN int, tagFilter []string) ([]Result, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topN > MaxTopN {
		topN = MaxTopN
	}
	factor := e.CandidateFactor
	if factor <= 0 {
		factor = DefaultCandidateFactor
	}
	candidateLimit := factor * topN

	normQuery := strings.ToLower(trimmed)
	queryWords := wordsOf(normQuery)
	querySet := trigram.Of(normQuery)

	candidates, err := GatherCandidates(ctx, e.Store, normQuery, candidateLimit)
	if err != nil {
		return nil, err
	}

	filtered := filterCandidates(candidates, tagFilter)

	queryEmbedding := e.tryQueryEmbedding(ctx, trimmed)

	now := time.Now()
	results := make([]Result, 0, len(filtered))
	for _, m := range filtered {
		fuzzy := fuzzyScore(normQuery, queryWords, querySet, m)
		strength := math.Min(1, m.CurrentStrength(now)/2.0)
		recency := recencyScore(m.LastAccessedAt, now)
		semantic := 0.0
		if len(queryEmbedding) > 0 && len(m.Embedding) > 0 {
			semantic = vectormath.NormalizedCosine(queryEmbedding, m.Embedding)
		}

		var score float64
		if len(queryEmbedding) > 0 {
			score = 0.4*semantic + 0.3*fuzzy + 0.2*strength + 0.1*recency
		} else {
			score = 0.5*fuzzy + 0.3*strength + 0.2*recency
		}

		results = append(results, Result{
			Memory:   m,
			Score:    score,
			Fuzzy:    fuzzy,
			Strength: strength,
			Recency:  recency,
			Semantic: semantic,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Memory.CreatedAt.Equal(results[j].Memory.CreatedAt) {
			return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})

	if len(results) > topN {
		results = results[:topN]
	}

	for _, r := range results {
		if e.Reinforce != nil {
			e.Reinforce.Enqueue(r.Memory.ID)
		}
	}
	return results, nil
}

// GatherCandidates unions memories from a full-text trigram scan (falling
// back to a substring scan if that finds nothing), a per-word trigram scan
// for tokens at least minWordLen long, and a tag-overlap pass — the pool
// both full-text search and the conflict resolver's relatedness probe draw
// candidates from, so a memory that only shares a tag with normQuery is
// still reachable even when it shares no trigrams or substring.
func GatherCandidates(ctx context.Context, store storage.Port, normQuery string, limit int) (map[string]*memory.Memory, error) {
	queryWords := wordsOf(normQuery)
	querySet := trigram.Of(normQuery)
	out := make(map[string]*memory.Memory)

	byTrigram, err := store.ScanByTrigrams(ctx, querySet.Slice(), limit)
	if err != nil {
		return nil, err
	}
	mergeInto(out, byTrigram)

	if len(byTrigram) == 0 {
		bySubstring, err := store.ScanBySubstring(ctx, normQuery, limit)
		if err != nil {
			return nil, err
		}
		mergeInto(out, bySubstring)
	}

	for _, w := range queryWords {
		if len(w) < minWordLen {
			continue
		}
		wordResults, err := store.ScanByTrigrams(ctx, trigram.Of(w).Slice(), limit)
		if err != nil {
			return nil, err
		}
		mergeInto(out, wordResults)
	}

	if len(queryWords) > 0 {
		all, err := store.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range all {
			if tagOverlapsQuery(m.Tags, queryWords) {
				out[m.ID] = m
			}
		}
	}

	return out, nil
}

func tagOverlapsQuery(tags, queryWords []string) bool {
	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		for _, w := range queryWords {
			if strings.Contains(tagLower, w) || strings.Contains(w, tagLower) {
				return true
			}
		}
	}
	return false
}

func mergeInto(dst map[string]*memory.Memory, src []*memory.Memory) {
	for _, m := range src {
		dst[m.ID] = m
	}
}

func filterCandidates(candidates map[string]*memory.Memory, tagFilter []string) []*memory.Memory {
	lowerFilter := make(map[string]struct{}, len(tagFilter))
	for _, t := range tagFilter {
		lowerFilter[strings.ToLower(t)] = struct{}{}
	}

	out := make([]*memory.Memory, 0, len(candidates))
	for _, m := range candidates {
		if !m.IsCurrent() {
			continue
		}
		if len(lowerFilter) > 0 {
			matched := false
			for _, tag := range m.Tags {
				if _, ok := lowerFilter[strings.ToLower(tag)]; ok {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) tryQueryEmbedding(ctx context.Context, text string) []float32 {
	if e.Embedder == nil || !e.Embedder.IsAvailable() {
		return nil
	}
	v, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		slog.Debug("search: query embedding skipped", "error", memerr.Wrap(memerr.EmbeddingUnavailable, "embed failed", err))
		return nil
	}
	return v
}

func recencyScore(lastAccessed, now time.Time) float64 {
	ageDays := now.Sub(lastAccessed).Hours() / 24
	score := 1 - ageDays/365
	if score < 0 {
		return 0
	}
	return score
}

func fuzzyScore(normQuery string, queryWords []string, querySet trigram.Set, m *memory.Memory) float64 {
	best := 0.0
	raise := func(v float64) {
		if v > best {
			best = v
		}
	}

	if normQuery != "" && strings.Contains(m.ContentNormalized, normQuery) {
		raise(1.0)
	}
	titleLower := strings.ToLower(m.Title)
	if normQuery != "" && strings.Contains(titleLower, normQuery) {
		raise(0.95)
	}

	for _, tag := range m.Tags {
		tagLower := strings.ToLower(tag)
		if tagLower == normQuery || strings.Contains(tagLower, normQuery) || strings.Contains(normQuery, tagLower) {
			raise(0.9)
			continue
		}
		for _, w := range queryWords {
			if strings.Contains(tagLower, w) || strings.Contains(w, tagLower) {
				raise(0.8)
				break
			}
		}
	}

	if len(queryWords) > 0 {
		titleHits := 0
		contentHits := 0
		for _, w := range queryWords {
			if strings.Contains(titleLower, w) {
				titleHits++
			}
			if strings.Contains(m.ContentNormalized, w) {
				contentHits++
			}
		}
		if titleHits > 0 {
			raise(0.7 * float64(titleHits) / float64(len(queryWords)))
		}
		if contentHits > 0 {
			raise(0.5 * float64(contentHits) / float64(len(queryWords)))
		}
	}

	jaccard := trigram.Similarity(querySet, m.Trigrams)
	if jaccard > 0.05 {
		raise(jaccard * 0.6)
	}

	return best
}

func wordsOf(normQuery string) []string {
	fields := strings.Fields(normQuery)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minWordLen {
			out = append(out, f)
		}
	}
	return out
}
