// Package series provides the immutable price timeline every session is
// played against, either fetched from a fund price file or generated as a
// synthetic random walk.
package series

import (
	"context"
	"errors"

	"github.com/fundbattle/battle-engine/internal/model"
)

var (
	// ErrDataSourceUnavailable is returned when a fund's prices cannot be
	// fetched or contain too few points to play.
	ErrDataSourceUnavailable = errors.New("series: data source unavailable")

	// ErrUnknownFund is returned when a fund id is not in the library.
	ErrUnknownFund = errors.New("series: unknown fund")
)

// MinPoints is the smallest fetched series accepted before falling back to a
// synthetic one.
const MinPoints = 6

// Series is an ordered, read-only price timeline. Index i of Points has
// Points[i].Index == i.
type Series struct {
	FundID    string
	Name      string
	Synthetic bool
	points    []model.PricePoint
}

// New builds a Series, re-indexing the points by position.
func New(fundID, name string, points []model.PricePoint) Series {
	cp := make([]model.PricePoint, len(points))
	for i, p := range points {
		p.Index = i
		cp[i] = p
	}
	return Series{FundID: fundID, Name: name, points: cp}
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.points) }

// At returns the point at day index i.
func (s Series) At(i int) (model.PricePoint, bool) {
	if i < 0 || i >= len(s.points) {
		return model.PricePoint{}, false
	}
	return s.points[i], true
}

// NAV returns the price at day index i, or fallback when i is out of range.
func (s Series) NAV(i int, fallback float64) float64 {
	if p, ok := s.At(i); ok {
		return p.NAV
	}
	return fallback
}

// Points returns a copy of the timeline.
func (s Series) Points() []model.PricePoint {
	return append([]model.PricePoint(nil), s.points...)
}

// Window returns the points in [from, to], clamped to the series bounds.
// The returned slice shares no memory with the series.
func (s Series) Window(from, to int) []model.PricePoint {
	if from < 0 {
		from = 0
	}
	if to >= len(s.points) {
		to = len(s.points) - 1
	}
	if from > to {
		return nil
	}
	return append([]model.PricePoint(nil), s.points[from:to+1]...)
}

// Provider resolves a fund id to its price series.
type Provider interface {
	Load(ctx context.Context, fundID string) (Series, error)
}
