package battle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fundbattle/battle-engine/internal/metrics"
	"github.com/fundbattle/battle-engine/internal/store"
	"github.com/fundbattle/battle-engine/internal/stream"
)

const (
	recordQueueSize = 256
	persistTimeout  = 5 * time.Second
)

// Recorder is the publisher rooms write to. It counts each event, forwards
// it to the live stream and queues the state it carries for persistence.
// Each room has its own queue and worker, so writes land in publish order
// without holding up the room. A failed or dropped store write is logged
// and never holds back the broadcast.
type Recorder struct {
	store store.Store
	next  stream.Publisher
	log   *slog.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	queues  map[string]chan stream.Event
	closed  bool
}

func NewRecorder(st store.Store, next stream.Publisher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if next == nil {
		next = stream.Discard
	}
	r := &Recorder{store: st, next: next, log: logger, queues: make(map[string]chan stream.Event)}
	r.idle = sync.NewCond(&r.mu)
	return r
}

func (r *Recorder) Publish(ctx context.Context, e stream.Event) error {
	if e.Type == stream.DayAdvanced {
		metrics.DayAdvances.WithLabelValues(e.Source).Inc()
	}
	r.enqueue(e)
	return r.next.Publish(ctx, e)
}

// Flush blocks until every queued write has been attempted.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending > 0 {
		r.idle.Wait()
	}
}

// Close stops accepting writes and waits for the queued ones.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	for id, q := range r.queues {
		close(q)
		delete(r.queues, id)
	}
	r.mu.Unlock()
	r.Flush()
}

func (r *Recorder) enqueue(e stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	q, ok := r.queues[e.RoomID]
	if !ok {
		q = make(chan stream.Event, recordQueueSize)
		r.queues[e.RoomID] = q
		go r.drain(q)
	}
	select {
	case q <- e:
		r.pending++
	default:
		r.log.Warn("persist queue full, dropping room event", "room", e.RoomID, "type", e.Type)
	}
	if e.Type == stream.RoomClosed {
		delete(r.queues, e.RoomID)
		close(q)
	}
}

func (r *Recorder) drain(q <-chan stream.Event) {
	for e := range q {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := r.persist(ctx, e); err != nil {
			r.log.Warn("persist room event failed", "room", e.RoomID, "type", e.Type, "err", err)
		}
		cancel()

		r.mu.Lock()
		r.pending--
		if r.pending == 0 {
			r.idle.Broadcast()
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) persist(ctx context.Context, e stream.Event) error {
	switch e.Type {
	case stream.DayAdvanced, stream.StatusChanged, stream.ConfigChanged:
		if e.Room == nil {
			return nil
		}
		return r.store.UpdateRoom(ctx, e.Room)
	case stream.PlayerUpdated:
		if e.Player == nil {
			return nil
		}
		return r.store.UpsertPlayer(ctx, e.Player)
	case stream.PlayerRemoved:
		return r.store.DeletePlayers(ctx, e.RoomID)
	case stream.GateChanged:
		return r.store.ReplaceGate(ctx, e.RoomID, e.Gate)
	case stream.RoomClosed:
		return r.store.DeleteRoom(ctx, e.RoomID)
	}
	return nil
}
