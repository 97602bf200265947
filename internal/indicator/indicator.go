// Package indicator computes trailing moving statistics and the "river"
// envelope drawn around a moving average. Everything here is a pure function
// of the price points; Memo is an optional per-index cache.
package indicator

import (
	"math"
	"sync"

	"github.com/fundbattle/battle-engine/internal/model"
)

// Stats is the mean and population standard deviation of a trailing window.
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// MovingStats returns the statistics of the window points ending at index
// at (inclusive). ok is false when at < window, i.e. the window is not yet
// fully covered by history.
func MovingStats(points []model.PricePoint, window, at int) (Stats, bool) {
	if window <= 0 || at < window || at >= len(points) {
		return Stats{}, false
	}
	sum := 0.0
	for i := at - window + 1; i <= at; i++ {
		sum += points[i].NAV
	}
	mean := sum / float64(window)

	sq := 0.0
	for i := at - window + 1; i <= at; i++ {
		d := points[i].NAV - mean
		sq += d * d
	}
	return Stats{Mean: mean, StdDev: math.Sqrt(sq / float64(window))}, true
}

// BandMode selects how the river width is derived.
type BandMode string

const (
	Fixed   BandMode = "fixed"
	Dynamic BandMode = "dynamic"
)

// BandSpec configures RiverBand. WidthPercent applies in Fixed mode;
// StdDev and K in Dynamic mode.
type BandSpec struct {
	Mode         BandMode `json:"mode"`
	WidthPercent float64  `json:"width_percent,omitempty"`
	StdDev       float64  `json:"stddev,omitempty"`
	K            float64  `json:"k,omitempty"`
}

// Band is the river envelope around a mean.
type Band struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// RiverBand returns the envelope around mean for the given band settings.
func RiverBand(mean float64, bs BandSpec) Band {
	if bs.Mode == Dynamic {
		return Band{Top: mean + bs.K*bs.StdDev, Bottom: mean - bs.K*bs.StdDev}
	}
	r := bs.WidthPercent / 100
	return Band{Top: mean * (1 + r), Bottom: mean * (1 - r)}
}

// Memo caches MovingStats results per (window, index) for one immutable
// point slice. Safe for concurrent use.
type Memo struct {
	points []model.PricePoint

	mu    sync.Mutex
	cache map[memoKey]memoVal
}

type memoKey struct{ window, at int }

type memoVal struct {
	stats Stats
	ok    bool
}

// NewMemo creates a cache over points. The slice must not be modified
// afterwards.
func NewMemo(points []model.PricePoint) *Memo {
	return &Memo{points: points, cache: make(map[memoKey]memoVal)}
}

// Stats returns MovingStats(points, window, at), computing it at most once.
func (m *Memo) Stats(window, at int) (Stats, bool) {
	k := memoKey{window, at}
	m.mu.Lock()
	v, hit := m.cache[k]
	m.mu.Unlock()
	if hit {
		return v.stats, v.ok
	}
	s, ok := MovingStats(m.points, window, at)
	m.mu.Lock()
	m.cache[k] = memoVal{s, ok}
	m.mu.Unlock()
	return s, ok
}
