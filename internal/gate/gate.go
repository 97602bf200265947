// Package gate implements the Trade Gate: the set of players currently
// deliberating a trade. While the set is non-empty the shared room clock is
// halted. Entries never expire on their own; only the owner or a host
// force-clear removes them.
package gate

import (
	"sort"
	"sync"
	"time"

	"github.com/fundbattle/battle-engine/internal/model"
)

// DefaultCountdown is the advisory window shown to the room once the gate
// closes.
const DefaultCountdown = 30 * time.Second

// Gate is a concurrency-safe set of GateEntry keyed by player id.
type Gate struct {
	mu        sync.Mutex
	entries   map[string]model.GateEntry
	since     time.Time
	countdown time.Duration
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithCountdown overrides the advisory countdown length.
func WithCountdown(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.countdown = d
		}
	}
}

// WithClock injects the time source used for RaisedAt and the countdown.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates an empty gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		entries:   make(map[string]model.GateEntry),
		countdown: DefaultCountdown,
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Raise adds or refreshes the entry for e.PlayerID and reports whether the
// gate transitioned from empty to non-empty. A zero RaisedAt is stamped with
// the gate clock.
func (g *Gate) Raise(e model.GateEntry) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e.RaisedAt.IsZero() {
		e.RaisedAt = g.now()
	}
	wasEmpty := len(g.entries) == 0
	g.entries[e.PlayerID] = e
	if wasEmpty {
		g.since = e.RaisedAt
	}
	return wasEmpty
}

// Lower removes the entry for playerID and reports whether the gate became
// empty as a result. Lowering an absent entry is a no-op.
func (g *Gate) Lower(playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entries[playerID]; !ok {
		return false
	}
	delete(g.entries, playerID)
	if len(g.entries) == 0 {
		g.since = time.Time{}
		return true
	}
	return false
}

// ForceClear removes every entry and returns how many were removed.
func (g *Gate) ForceClear() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.entries)
	clear(g.entries)
	g.since = time.Time{}
	return n
}

// Entries returns the current entries ordered by RaisedAt, then player id.
func (g *Gate) Entries() []model.GateEntry {
	g.mu.Lock()
	out := make([]model.GateEntry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].RaisedAt.Before(out[j].RaisedAt)
	})
	return out
}

// Has reports whether playerID holds an entry.
func (g *Gate) Has(playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[playerID]
	return ok
}

func (g *Gate) Empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries) == 0
}

func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Countdown returns the advisory time left since the gate last became
// non-empty. active is false when the gate is empty. The countdown never
// removes entries.
func (g *Gate) Countdown() (remaining time.Duration, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.entries) == 0 {
		return 0, false
	}
	remaining = g.countdown - g.now().Sub(g.since)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
