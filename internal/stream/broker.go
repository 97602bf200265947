package stream

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Broker is an in-process Stream. Each subscriber has a buffered channel;
// when it is full the event is dropped for that subscriber only.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	logger *slog.Logger
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

// NewBroker creates a broker. logger may be nil.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[string]map[*subscription]struct{}), buffer: DefaultBuffer, logger: logger}
}

func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[e.RoomID] {
		select {
		case s.ch <- e:
		default:
			b.logger.Warn("dropping event for slow subscriber", "room", e.RoomID, "type", e.Type)
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, roomID string) (<-chan Event, func()) {
	s := &subscription{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[*subscription]struct{})
	}
	b.subs[roomID][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[roomID], s)
			if len(b.subs[roomID]) == 0 {
				delete(b.subs, roomID)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return s.ch, cancel
}

// Subscribers returns the number of live subscriptions for roomID.
func (b *Broker) Subscribers(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[roomID])
}
