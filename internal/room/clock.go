package room

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

var ErrInvalidSpeed = errors.New("room: unsupported autoplay speed")

// Speeds are the autoplay periods a host may choose from.
var Speeds = []time.Duration{
	200 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
}

// ValidSpeed reports whether d is one of Speeds.
func ValidSpeed(d time.Duration) bool { return slices.Contains(Speeds, d) }

// Ticker is the subset of time.Ticker the clock uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker with period d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type advancer interface {
	Advance(ctx context.Context, src Source) (int, error)
}

// Clock is the host's single autoplay goroutine. It stops itself on the
// first refused advance (gate held, room ended) and never restarts on its
// own.
type Clock struct {
	target    advancer
	newTicker TickerFunc
	logger    *slog.Logger
	onChange  func(speed time.Duration)

	mu     sync.Mutex
	cancel context.CancelFunc
	speed  time.Duration
	gen    uint64
}

func newClock(target advancer, tf TickerFunc, logger *slog.Logger) *Clock {
	if tf == nil {
		tf = newRealTicker
	}
	return &Clock{target: target, newTicker: tf, logger: logger}
}

// Play (re)starts the clock at speed. The clock outlives ctx's
// cancellation; only Stop or a refused advance ends it.
func (k *Clock) Play(ctx context.Context, speed time.Duration) {
	k.mu.Lock()
	if k.cancel != nil {
		k.cancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	k.cancel = cancel
	k.speed = speed
	k.gen++
	gen := k.gen
	k.mu.Unlock()

	k.logger.Info("autoplay started", "speed", speed)
	go k.run(runCtx, gen, speed)
	k.notify(speed)
}

// Stop halts the clock. It does not wait for an in-flight tick.
func (k *Clock) Stop() { k.stop(0) }

// Speed returns the running period, or 0 when stopped.
func (k *Clock) Speed() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.speed
}

func (k *Clock) run(ctx context.Context, gen uint64, speed time.Duration) {
	t := k.newTicker(speed)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if _, err := k.target.Advance(ctx, SourceAutoplay); err != nil {
				k.logger.Info("autoplay stopped", "reason", err)
				k.stop(gen)
				return
			}
		}
	}
}

// stop cancels the run loop. A non-zero gen only stops that generation, so
// a loop exiting late cannot stop a newer Play.
func (k *Clock) stop(gen uint64) {
	k.mu.Lock()
	if k.cancel == nil || (gen != 0 && gen != k.gen) {
		k.mu.Unlock()
		return
	}
	k.cancel()
	k.cancel = nil
	k.speed = 0
	k.mu.Unlock()
	k.notify(0)
}

func (k *Clock) notify(speed time.Duration) {
	if k.onChange != nil {
		k.onChange(speed)
	}
}
