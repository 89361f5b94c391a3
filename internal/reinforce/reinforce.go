// Package reinforce is the fire-and-forget reinforcement queue: search and
// get_memory enqueue an id after returning results, and a dedicated worker
// drains the queue and applies the reinforcement update independently of
// the calling request's cancellation, using its own timeout. The queue is a
// single-purpose, non-blocking channel with exactly one consumer.
package reinforce

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrel-dev/agentmem/internal/storage"
)

// queueBufSize bounds the reinforcement backlog; a burst of search results
// beyond this is dropped with a warning rather than blocking the caller.
const queueBufSize = 1024

// Queue enqueues memory ids for asynchronous reinforcement.
type Queue struct {
	ch chan string
}

// New creates a Queue. Run must be called to actually drain it.
func New() *Queue {
	return &Queue{ch: make(chan string, queueBufSize)}
}

// Enqueue schedules id for reinforcement. Non-blocking: if the queue is
// full, the request is dropped with a logged warning rather than stalling
// the caller.
func (q *Queue) Enqueue(id string) {
	select {
	case q.ch <- id:
	default:
		slog.Warn("reinforce: queue full, dropping reinforcement", "id", id)
	}
}

// Run drains the queue until ctx is cancelled, applying reinforce() via
// store for each id. Each reinforcement uses its own short-lived context so
// a cancelled caller never cancels reinforcement in flight.
func (q *Queue) Run(ctx context.Context, store storage.Port) {
	for {
		select {
		case <-ctx.Done():
			q.drain(store)
			return
		case id := <-q.ch:
			q.apply(store, id)
		}
	}
}

func (q *Queue) drain(store storage.Port) {
	for {
		select {
		case id := <-q.ch:
			q.apply(store, id)
		default:
			return
		}
	}
}

func (q *Queue) apply(store storage.Port, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := store.Get(ctx, id)
	if err != nil {
		slog.Warn("reinforce: lookup failed", "id", id, "error", err)
		return
	}
	if m == nil {
		return
	}
	m.Reinforce(time.Now())
	m.Recompute()
	if err := store.Save(ctx, m); err != nil {
		slog.Warn("reinforce: save failed", "id", id, "error", err)
	}
}
