// Package memory defines the core entity persisted by the store: the
// Memory, its derived fields, and the operations that mutate it
// (reinforcement, decay, embedding, supersession bookkeeping). Stored and
// derived fields are kept separate so derived fields (normalized content,
// trigrams) can always be recomputed from the stored ones rather than
// trusted as independently durable.
package memory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-dev/agentmem/internal/embedding"
	"github.com/kestrel-dev/agentmem/internal/trigram"
)

// StrengthCap bounds base_strength; reinforcement never pushes it higher.
const StrengthCap = 5.0

// DefaultDecayRate is the per-day decay constant New assigns to every new
// memory. The decay.default_rate configuration value is not applied here.
const DefaultDecayRate = 0.05

// Ingress clamp defaults (overridable via config.StorageConfig).
const (
	DefaultMaxTitle   = 256
	DefaultMaxSummary = 1024
	DefaultMaxContent = 65536
	DefaultMaxTags    = 32
)

// maxNormalizedLen bounds content_normalized so it stays within index-key
// limits on the storage backend.
const maxNormalizedLen = 800

// Memory is a single stored recollection.
type Memory struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`

	Importance float64 `json:"importance"`

	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`

	BaseStrength float64 `json:"base_strength"`
	AccessCount  int64   `json:"access_count"`
	DecayRate    float64 `json:"decay_rate"`

	IsPinned   bool `json:"is_pinned"`
	IsArchived bool `json:"is_archived"`

	SupersededBy  string   `json:"superseded_by,omitempty"`
	SupersededIDs []string `json:"superseded_ids,omitempty"`
	LinkedNodeIDs []string `json:"linked_node_ids,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	ContentNormalized string      `json:"content_normalized"`
	Trigrams          trigram.Set `json:"-"`
	TrigramList       []string    `json:"trigrams,omitempty"`
}

// Limits bounds ingress string/tag sizes; the zero value is invalid, use
// DefaultLimits().
type Limits struct {
	MaxTitle   int
	MaxSummary int
	MaxContent int
	MaxTags    int
}

// DefaultLimits returns the default ingress clamps.
func DefaultLimits() Limits {
	return Limits{
		MaxTitle:   DefaultMaxTitle,
		MaxSummary: DefaultMaxSummary,
		MaxContent: DefaultMaxContent,
		MaxTags:    DefaultMaxTags,
	}
}

// New constructs a Memory with fresh identity and defaults, clamping inputs
// to limits, and populates the derived fields via Recompute.
func New(title, summary, content string, tags []string, importance float64, lim Limits, now time.Time) *Memory {
	m := &Memory{
		ID:             uuid.NewString(),
		Title:          clampString(title, lim.MaxTitle),
		Summary:        clampString(summary, lim.MaxSummary),
		Content:        clampString(content, lim.MaxContent),
		Tags:           dedupTags(tags, lim.MaxTags),
		Importance:     clampImportance(importance),
		CreatedAt:      now,
		LastAccessedAt: now,
		ValidFrom:      now,
		BaseStrength:   1.0,
		DecayRate:      DefaultDecayRate,
	}
	m.Recompute()
	return m
}

func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampString(s string, max int) string {
	s = embedding.Sanitize(s)
	if max <= 0 || len([]rune(s)) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

// NormalizeTags deduplicates tags case-insensitively, preserves first-seen
// casing and order, and truncates to max entries. Callers replacing a
// memory's tag set wholesale (rather than merging via MergeTags) must run
// them through this first so a direct tag update can't bypass the same
// clamps New applies.
func NormalizeTags(tags []string, max int) []string {
	return dedupTags(tags, max)
}

// dedupTags deduplicates case-insensitively, preserving first-seen casing
// and input order, and truncates to max entries.
func dedupTags(tags []string, max int) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// Recompute derives content_normalized and trigrams from (title, summary,
// tags), and sanitizes stored strings. Called on every save.
func (m *Memory) Recompute() {
	m.Title = embedding.Sanitize(m.Title)
	m.Summary = embedding.Sanitize(m.Summary)
	m.Content = embedding.Sanitize(m.Content)
	for i, t := range m.Tags {
		m.Tags[i] = embedding.Sanitize(t)
	}

	joinedTags := strings.Join(m.Tags, " ")
	raw := strings.ToLower(strings.TrimSpace(m.Title + " " + m.Summary + " " + joinedTags))
	if r := []rune(raw); len(r) > maxNormalizedLen {
		raw = string(r[:maxNormalizedLen])
	}
	m.ContentNormalized = raw
	m.Trigrams = trigram.Of(raw)
	m.TrigramList = m.Trigrams.Slice()
}

// HydrateTrigrams rebuilds the Trigrams set from a persisted TrigramList,
// used when loading a record back from storage without recomputing from
// scratch (which would be a no-op anyway since it's a pure function, but
// avoids the allocation).
func (m *Memory) HydrateTrigrams() {
	m.Trigrams = trigram.FromSlice(m.TrigramList)
}

// IsCurrent reports whether m participates in search results.
func (m *Memory) IsCurrent() bool {
	return !m.IsArchived && m.ValidUntil == nil
}

// CurrentStrength is the decayed strength at time now.
func (m *Memory) CurrentStrength(now time.Time) float64 {
	if m.IsPinned {
		return m.BaseStrength
	}
	ageDays := now.Sub(m.LastAccessedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return m.BaseStrength * math.Exp(-m.DecayRate*ageDays)
}

// Reinforce applies the reinforcement operator: resets the decay clock,
// increments access_count, and grows base_strength proportional to
// importance, capped at StrengthCap.
func (m *Memory) Reinforce(now time.Time) {
	m.LastAccessedAt = now
	m.AccessCount++
	m.BaseStrength = math.Min(m.BaseStrength+0.1*(1+m.Importance), StrengthCap)
}

// SetEmbedding stores v, which must already be unit-normalized by the
// caller (the embedding port's contract).
func (m *Memory) SetEmbedding(v []float32) {
	m.Embedding = v
}

// GetEmbedding returns the stored embedding, or nil if none.
func (m *Memory) GetEmbedding() []float32 {
	return m.Embedding
}

// HasTag reports case-insensitive tag membership.
func (m *Memory) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range m.Tags {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	return false
}

// MergeTags adds any tags from extra not already present (case-insensitive),
// respecting max.
func (m *Memory) MergeTags(extra []string, max int) {
	combined := append(append([]string{}, m.Tags...), extra...)
	m.Tags = dedupTags(combined, max)
}

// Archive marks m as superseded by newID at time now.
func (m *Memory) Archive(newID string, now time.Time) {
	m.IsArchived = true
	until := now
	m.ValidUntil = &until
	m.SupersededBy = newID
}

// AddSupersededID records that m superseded the given id, keeping the set
// sorted for deterministic serialization.
func (m *Memory) AddSupersededID(id string) {
	for _, existing := range m.SupersededIDs {
		if existing == id {
			return
		}
	}
	m.SupersededIDs = append(m.SupersededIDs, id)
	sort.Strings(m.SupersededIDs)
}
