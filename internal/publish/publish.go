// Package publish pushes a player's ledger snapshot to the room with an
// explicit write policy: market-tick updates are throttled, trade results
// are sent immediately.
package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fundbattle/battle-engine/internal/model"
)

// DefaultInterval is the minimum spacing of throttled writes.
const DefaultInterval = 1500 * time.Millisecond

// Sink receives snapshot writes.
type Sink interface {
	WriteSnapshot(ctx context.Context, roomID string, s model.Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, roomID string, s model.Snapshot) error

func (f SinkFunc) WriteSnapshot(ctx context.Context, roomID string, s model.Snapshot) error {
	return f(ctx, roomID, s)
}

// Policy decides whether a write may be sent.
type Policy struct {
	name     string
	interval time.Duration
}

// Immediate always writes and restarts the throttle window.
func Immediate() Policy { return Policy{name: "immediate"} }

// Throttled writes only if at least interval has elapsed since the last write;
// otherwise the write is dropped and superseded by a later one.
func Throttled(interval time.Duration) Policy {
	return Policy{name: "throttled", interval: interval}
}

func (p Policy) String() string { return p.name }

// Observer is notified of every attempted write. Used for metrics.
type Observer func(policy string, sent bool)

// Publisher serialises snapshot writes for one player.
type Publisher struct {
	sink     Sink
	roomID   string
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	mu   sync.Mutex
	last time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(p *Publisher) { p.logger = l } }
func WithObserver(o Observer) Option        { return func(p *Publisher) { p.observer = o } }

// New creates a Publisher writing roomID snapshots to sink.
func New(sink Sink, roomID string, opts ...Option) *Publisher {
	p := &Publisher{sink: sink, roomID: roomID, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// SetRoom rebinds the publisher to another room and resets the window.
func (p *Publisher) SetRoom(roomID string) {
	p.mu.Lock()
	p.roomID = roomID
	p.last = time.Time{}
	p.mu.Unlock()
}

// Publish sends s if policy allows. It reports whether a write was
// attempted. Sink failures are logged and not retried.
func (p *Publisher) Publish(ctx context.Context, s model.Snapshot, policy Policy) bool {
	p.mu.Lock()
	now := p.now()
	if policy.interval > 0 && !p.last.IsZero() && now.Sub(p.last) < policy.interval {
		p.mu.Unlock()
		p.observe(policy, false)
		return false
	}
	p.last = now
	roomID := p.roomID
	p.mu.Unlock()

	if err := p.sink.WriteSnapshot(ctx, roomID, s); err != nil {
		p.logger.Warn("snapshot write failed", "room", roomID, "player", s.PlayerID, "policy", policy.name, "err", err)
	}
	p.observe(policy, true)
	return true
}

func (p *Publisher) observe(policy Policy, sent bool) {
	if p.observer != nil {
		p.observer(policy.name, sent)
	}
}
