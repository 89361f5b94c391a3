package search

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-dev/agentmem/internal/embedding"
	"github.com/kestrel-dev/agentmem/internal/memory"
	"github.com/kestrel-dev/agentmem/internal/reinforce"
	"github.com/kestrel-dev/agentmem/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, storage.Port) {
	t.Helper()
	store, err := storage.OpenLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e := New(store, embedding.Noop(), reinforce.New())
	return e, store
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	e, _ := newTestEngine(t)
	results, err := e.Search(context.Background(), "   ", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %d", len(results))
	}
}

func TestSearchFindsMatchingTitle(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	now := time.Now()

	py := memory.New("Python Programming", "Learning about Python programming language", "", nil, 0.5, memory.DefaultLimits(), now)
	js := memory.New("JavaScript Basics", "Introduction to JavaScript", "", nil, 0.5, memory.DefaultLimits(), now)
	if err := store.Save(ctx, py); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, js); err != nil {
		t.Fatal(err)
	}

	results, err := e.Search(ctx, "Python programming", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected non-empty results")
	}
	if results[0].Memory.Title != "Python Programming" {
		t.Fatalf("expected Python result first, got %q", results[0].Memory.Title)
	}
}

func TestSearchExcludesArchived(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	now := time.Now()

	m := memory.New("Archived Topic", "about archived topic", "", nil, 0.5, memory.DefaultLimits(), now)
	m.IsArchived = true
	if err := store.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	results, err := e.Search(ctx, "archived topic", 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Memory.ID == m.ID {
			t.Fatal("archived memory must not appear in results")
		}
	}
}

func TestSearchResultsAreSortedDescending(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		m := memory.New("Go Concurrency", "notes about goroutines and channels", "", nil, 0.5, memory.DefaultLimits(), now)
		if err := store.Save(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	results, err := e.Search(ctx, "goroutines channels", 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not sorted descending at index %d", i)
		}
	}
}

func TestSearchTagFilter(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	now := time.Now()
	tagged := memory.New("Recipe", "pasta dish notes", "", []string{"cooking"}, 0.5, memory.DefaultLimits(), now)
	untagged := memory.New("Recipe", "pasta dish notes", "", []string{"travel"}, 0.5, memory.DefaultLimits(), now)
	if err := store.Save(ctx, tagged); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, untagged); err != nil {
		t.Fatal(err)
	}

	results, err := e.Search(ctx, "pasta dish", 10, []string{"cooking"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Memory.ID == untagged.ID {
			t.Fatal("untagged memory must be excluded by tag filter")
		}
	}
}
