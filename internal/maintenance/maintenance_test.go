package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-dev/agentmem/internal/memory"
	"github.com/kestrel-dev/agentmem/internal/storage"
)

func TestRunCycleCompactsAndScansWeak(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	weak := memory.New("weak", "s", "c", nil, 0.1, memory.DefaultLimits(), time.Now())
	weak.BaseStrength = 0.01
	if err := store.Save(ctx, weak); err != nil {
		t.Fatal(err)
	}

	sw := New(store, 0.1)
	sw.runCycle(ctx, "test")
	// runCycle must not error out or panic; weak memory must still be present
	// (the sweep logs, it never deletes).
	got, err := store.Get(ctx, weak.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected weak memory to survive the sweep")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store, err := storage.OpenLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	sw := New(store, 0.1)
	sw.Interval = time.Hour // avoid the ticker firing during the test
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
