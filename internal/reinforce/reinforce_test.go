package reinforce

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-dev/agentmem/internal/memory"
	"github.com/kestrel-dev/agentmem/internal/storage"
)

func TestEnqueueAppliesReinforcement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store, err := storage.OpenLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	m := memory.New("t", "s", "c", nil, 0.5, memory.DefaultLimits(), time.Now())
	if err := store.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	q := New()
	go q.Run(ctx, store)
	q.Enqueue(m.ID)

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(ctx, m.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.AccessCount >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reinforcement to apply")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	q := &Queue{ch: make(chan string, 1)}
	q.Enqueue("a")
	q.Enqueue("b") // must not block even though the queue is full
}
