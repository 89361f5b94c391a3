package memory

import (
	"testing"
	"time"
)

func TestNewClampsImportance(t *testing.T) {
	now := time.Now()
	m := New("t", "s", "c", nil, 5.0, DefaultLimits(), now)
	if m.Importance != 1 {
		t.Fatalf("expected importance clamped to 1, got %v", m.Importance)
	}
	m2 := New("t", "s", "c", nil, -5.0, DefaultLimits(), now)
	if m2.Importance != 0 {
		t.Fatalf("expected importance clamped to 0, got %v", m2.Importance)
	}
}

func TestNewTruncatesContent(t *testing.T) {
	now := time.Now()
	lim := Limits{MaxTitle: 10, MaxSummary: 10, MaxContent: 5, MaxTags: 32}
	long := "abcdefghij"
	m := New(long, long, long, nil, 0.5, lim, now)
	if len([]rune(m.Content)) != 5 {
		t.Fatalf("expected content truncated to 5 runes, got %d", len([]rune(m.Content)))
	}
}

func TestTagDedup(t *testing.T) {
	now := time.Now()
	m := New("t", "s", "c", []string{"Go", "go", "GO", "rust"}, 0.5, DefaultLimits(), now)
	if len(m.Tags) != 2 {
		t.Fatalf("expected 2 deduped tags, got %v", m.Tags)
	}
	if m.Tags[0] != "Go" {
		t.Fatalf("expected first-seen casing preserved, got %q", m.Tags[0])
	}
}

func TestCurrentStrengthDecay(t *testing.T) {
	now := time.Now()
	m := New("t", "s", "c", nil, 0.5, DefaultLimits(), now)
	m.LastAccessedAt = now.Add(-365 * 24 * time.Hour)
	got := m.CurrentStrength(now)
	if got >= m.BaseStrength {
		t.Fatalf("expected decayed strength < base, got %v >= %v", got, m.BaseStrength)
	}
	if got < 0 {
		t.Fatalf("strength must not go negative, got %v", got)
	}
}

func TestPinnedDoesNotDecay(t *testing.T) {
	now := time.Now()
	m := New("t", "s", "c", nil, 0.5, DefaultLimits(), now)
	m.IsPinned = true
	m.LastAccessedAt = now.Add(-1000 * 24 * time.Hour)
	if got := m.CurrentStrength(now); got != m.BaseStrength {
		t.Fatalf("expected pinned strength == base_strength, got %v != %v", got, m.BaseStrength)
	}
}

func TestReinforceCapsAtStrengthCap(t *testing.T) {
	now := time.Now()
	m := New("t", "s", "c", nil, 1.0, DefaultLimits(), now)
	for i := 0; i < 1000; i++ {
		m.Reinforce(now)
	}
	if m.BaseStrength > StrengthCap {
		t.Fatalf("base_strength exceeded cap: %v", m.BaseStrength)
	}
	if m.AccessCount != 1000 {
		t.Fatalf("expected access_count 1000, got %d", m.AccessCount)
	}
}

func TestIsCurrent(t *testing.T) {
	now := time.Now()
	m := New("t", "s", "c", nil, 0.5, DefaultLimits(), now)
	if !m.IsCurrent() {
		t.Fatal("fresh memory should be current")
	}
	m.IsArchived = true
	if m.IsCurrent() {
		t.Fatal("archived memory must not be current")
	}
	m.IsArchived = false
	until := now
	m.ValidUntil = &until
	if m.IsCurrent() {
		t.Fatal("memory with valid_until set must not be current")
	}
}

func TestRecomputeDeterministic(t *testing.T) {
	now := time.Now()
	m1 := New("Hello World", "a summary", "content", []string{"x", "y"}, 0.5, DefaultLimits(), now)
	m2 := New("Hello World", "a summary", "content", []string{"x", "y"}, 0.5, DefaultLimits(), now)
	if m1.ContentNormalized != m2.ContentNormalized {
		t.Fatalf("expected deterministic normalization, got %q vs %q", m1.ContentNormalized, m2.ContentNormalized)
	}
	if len(m1.TrigramList) != len(m2.TrigramList) {
		t.Fatal("expected deterministic trigram set")
	}
}

func TestArchiveAndSupersede(t *testing.T) {
	now := time.Now()
	old := New("old", "s", "c", nil, 0.5, DefaultLimits(), now)
	newer := New("new", "s", "c", nil, 0.5, DefaultLimits(), now)
	old.Archive(newer.ID, now)
	newer.AddSupersededID(old.ID)

	if !old.IsArchived || old.ValidUntil == nil || old.SupersededBy != newer.ID {
		t.Fatal("archive did not set expected fields")
	}
	found := false
	for _, id := range newer.SupersededIDs {
		if id == old.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected superseded id recorded on new memory")
	}
}
