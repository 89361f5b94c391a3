// Package conflict implements the conflict-aware write pipeline: probing
// for related memories, deciding whether an incoming memory duplicates,
// supersedes, coexists with, or is wholly new relative to what is already
// stored, and maintaining the supersession chain. The probe-then-decide
// shape embeds the incoming memory, searches for near neighbors, and
// compares similarity against a duplicate threshold before inserting,
// branching into a four-way decision tree with archive/link bookkeeping.
package conflict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kestrel-dev/agentmem/internal/embedding"
	"github.com/kestrel-dev/agentmem/internal/memerr"
	"github.com/kestrel-dev/agentmem/internal/memory"
	"github.com/kestrel-dev/agentmem/internal/search"
	"github.com/kestrel-dev/agentmem/internal/storage"
	"github.com/kestrel-dev/agentmem/internal/trigram"
	"github.com/kestrel-dev/agentmem/internal/vectormath"
)

// Action identifies which branch of the decision tree a Store call took.
type Action string

const (
	StoredNew           Action = "StoredNew"
	StoredWithSupersede Action = "StoredWithSupersede"
	ReinforcedExisting  Action = "ReinforcedExisting"
	StoredCoexist       Action = "StoredCoexist"
)

// Defaults for the resolver's tunables.
const (
	DefaultDuplicateThreshold = 0.92
	DefaultSupersedeThreshold = 0.75
	DefaultCoexistThreshold   = 0.55
	DefaultProbeK             = 5
)

// DefaultSingularTags names tags that denote a fact with at most one
// current holder (a person has one current employer, one residence).
func DefaultSingularTags() []string {
	return []string{"employment", "residence", "relationship-status", "current", "now"}
}

// Result is the outcome of a Store call.
type Result struct {
	Memory     *memory.Memory   `json:"memory"`
	Action     Action           `json:"action"`
	Superseded []*memory.Memory `json:"superseded"`
	Message    string           `json:"message"`
}

// Resolver is the conflict-aware write pipeline.
type Resolver struct {
	Store    storage.Port
	Embedder embedding.Embedder

	DuplicateThreshold float64
	SupersedeThreshold float64
	CoexistThreshold   float64
	SingularTags       []string
	ProbeK             int
}

// NewResolver builds a Resolver with the package defaults for any zero-valued
// tunable.
func NewResolver(store storage.Port, embedder embedding.Embedder) *Resolver {
	return &Resolver{
		Store:              store,
		Embedder:           embedder,
		DuplicateThreshold: DefaultDuplicateThreshold,
		SupersedeThreshold: DefaultSupersedeThreshold,
		CoexistThreshold:   DefaultCoexistThreshold,
		SingularTags:       DefaultSingularTags(),
		ProbeK:             DefaultProbeK,
	}
}

// candidate pairs a probed memory with its similarity to the incoming one.
type candidate struct {
	mem *memory.Memory
	sim float64
}

// Store runs the full conflict-aware write pipeline for m, which must
// already carry its assigned id (see memory.New).
func (r *Resolver) Store(ctx context.Context, m *memory.Memory) (*Result, error) {
	if r.Embedder != nil && r.Embedder.IsAvailable() {
		if v, err := r.Embedder.Embed(ctx, m.Title+" "+m.Summary); err == nil {
			m.SetEmbedding(v)
		} else {
			slog.Debug("conflict: embed skipped", "id", m.ID, "error", memerr.Wrap(memerr.EmbeddingUnavailable, "embed failed", err))
		}
	}
	m.Recompute()

	candidates, err := r.probe(ctx, m)
	if err != nil {
		return nil, err
	}

	if dup := r.findDuplicate(m, candidates); dup != nil {
		now := time.Now()
		dup.mem.MergeTags(m.Tags, 0)
		dup.mem.Reinforce(now)
		dup.mem.Recompute()
		if err := r.Store.Save(ctx, dup.mem); err != nil {
			return nil, err
		}
		return &Result{
			Memory:  dup.mem,
			Action:  ReinforcedExisting,
			Message: fmt.Sprintf("reinforced existing memory %q (similarity %.2f)", dup.mem.Title, dup.sim),
		}, nil
	}

	toSupersede := r.findSupersessionTargets(m, candidates)
	if len(toSupersede) > 0 {
		return r.storeWithSupersede(ctx, m, toSupersede)
	}

	if r.hasCoexistCandidate(candidates) {
		if err := r.Store.Save(ctx, m); err != nil {
			return nil, err
		}
		return &Result{
			Memory:  m,
			Action:  StoredCoexist,
			Message: fmt.Sprintf("stored %q alongside related existing memories", m.Title),
		}, nil
	}

	if err := r.Store.Save(ctx, m); err != nil {
		return nil, err
	}
	return &Result{
		Memory:  m,
		Action:  StoredNew,
		Message: fmt.Sprintf("stored new memory %q", m.Title),
	}, nil
}

// probe searches for the top ProbeK related current memories using title +
// summary as the query, with no tag filter, and computes each candidate's
// similarity as max(semantic cosine, trigram Jaccard). Candidate gathering
// is shared with full-text search, so a memory related only by tag overlap
// (no shared trigrams or substring) is still probed as a supersede/coexist
// target.
func (r *Resolver) probe(ctx context.Context, m *memory.Memory) ([]candidate, error) {
	queryText := strings.ToLower(strings.TrimSpace(m.Title + " " + m.Summary))
	limit := r.probeK() * 4

	pool, err := search.GatherCandidates(ctx, r.Store, queryText, limit)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(pool))
	for _, cand := range pool {
		if cand.ID == m.ID || !cand.IsCurrent() {
			continue
		}
		out = append(out, candidate{mem: cand, sim: similarity(m, cand)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].sim > out[j].sim })
	if len(out) > r.probeK() {
		out = out[:r.probeK()]
	}
	return out, nil
}

func (r *Resolver) probeK() int {
	if r.ProbeK <= 0 {
		return DefaultProbeK
	}
	return r.ProbeK
}

func similarity(a, b *memory.Memory) float64 {
	sim := trigram.Similarity(a.Trigrams, b.Trigrams)
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		cos := vectormath.Cosine(a.Embedding, b.Embedding)
		if cos > sim {
			sim = cos
		}
	}
	return sim
}

func (r *Resolver) findDuplicate(m *memory.Memory, candidates []candidate) *candidate {
	newHash := contentHash(m.Content)
	for i := range candidates {
		c := &candidates[i]
		if c.sim < r.DuplicateThreshold {
			continue
		}
		sameTitle := strings.EqualFold(c.mem.Title, m.Title)
		sameContent := contentHash(c.mem.Content) == newHash
		if sameTitle || sameContent {
			return c
		}
	}
	return nil
}

// findSupersessionTargets returns every candidate that should be superseded
// by m, per the singular-tag rule and the content-refinement rule.
func (r *Resolver) findSupersessionTargets(m *memory.Memory, candidates []candidate) []*memory.Memory {
	singular := toLowerSet(r.SingularTags)
	incomingSingular := intersects(toLowerSet(m.Tags), singular)

	var out []*memory.Memory
	for _, c := range candidates {
		if c.sim < r.SupersedeThreshold {
			continue
		}
		if incomingSingular && sharesTagIn(m, c.mem, singular) {
			out = append(out, c.mem)
			continue
		}
		if sharesNonSingularTag(m, c.mem, singular) && IsRefinement(m.Content, c.mem.Content) {
			out = append(out, c.mem)
		}
	}
	return out
}

func (r *Resolver) hasCoexistCandidate(candidates []candidate) bool {
	for _, c := range candidates {
		if c.sim >= r.CoexistThreshold {
			return true
		}
	}
	return false
}

func (r *Resolver) storeWithSupersede(ctx context.Context, m *memory.Memory, targets []*memory.Memory) (*Result, error) {
	now := time.Now()
	for _, t := range targets {
		if t.ID == m.ID {
			return nil, memerr.New(memerr.Conflict, fmt.Sprintf("memory %s cannot supersede itself", m.ID))
		}
		if t.SupersededBy != "" && t.SupersededBy != m.ID {
			return nil, memerr.New(memerr.Conflict, fmt.Sprintf("supersession target %s already superseded by %s", t.ID, t.SupersededBy))
		}
		m.AddSupersededID(t.ID)
	}

	// Write the new memory first, then flip each superseded memory, so a
	// concurrent reader never observes a gap where neither record is current.
	if err := r.Store.Save(ctx, m); err != nil {
		return nil, err
	}

	for _, t := range targets {
		t.Archive(m.ID, now)
		t.Recompute()
		if err := r.Store.Save(ctx, t); err != nil {
			return nil, err
		}
	}

	return &Result{
		Memory:     m,
		Action:     StoredWithSupersede,
		Superseded: targets,
		Message:    fmt.Sprintf("stored %q, superseding %d prior memories", m.Title, len(targets)),
	}, nil
}

// GetTagHistory returns every memory carrying tag (case-insensitive),
// ordered by valid_from descending, exposing the supersession chain.
func (r *Resolver) GetTagHistory(ctx context.Context, tag string, includeArchived bool) ([]*memory.Memory, error) {
	matches, err := r.Store.ScanByTags(ctx, []string{tag}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Memory, 0, len(matches))
	for _, m := range matches {
		if !includeArchived && m.IsArchived {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.After(out[j].ValidFrom) })
	return out, nil
}

// IsRefinement reports whether newContent is a plausible refinement of
// oldContent: either substantially longer, or it textually subsumes the
// old content once both are lower-cased.
func IsRefinement(newContent, oldContent string) bool {
	if oldContent == "" {
		return newContent != ""
	}
	if float64(len(newContent)) > 1.2*float64(len(oldContent)) {
		return true
	}
	return strings.Contains(strings.ToLower(newContent), strings.ToLower(oldContent))
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func toLowerSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[strings.ToLower(t)] = struct{}{}
	}
	return out
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func sharesTagIn(a, b *memory.Memory, allowed map[string]struct{}) bool {
	bt := toLowerSet(b.Tags)
	for t := range toLowerSet(a.Tags) {
		if _, ok := allowed[t]; !ok {
			continue
		}
		if _, ok := bt[t]; ok {
			return true
		}
	}
	return false
}

func sharesNonSingularTag(a, b *memory.Memory, singular map[string]struct{}) bool {
	bt := toLowerSet(b.Tags)
	for t := range toLowerSet(a.Tags) {
		if _, ok := singular[t]; ok {
			continue
		}
		if _, ok := bt[t]; ok {
			return true
		}
	}
	return false
}
