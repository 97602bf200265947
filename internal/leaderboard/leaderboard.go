// Package leaderboard ranks players by ROI, both within a live room and on
// the global board of finished games.
package leaderboard

import (
	"slices"

	"github.com/fundbattle/battle-engine/internal/model"
)

// Rank returns players ordered by ROI descending. Ties keep input order.
// The input slice is not modified.
func Rank(players []model.Player) []model.Player {
	out := slices.Clone(players)
	slices.SortStableFunc(out, func(a, b model.Player) int {
		switch {
		case a.ROI > b.ROI:
			return -1
		case a.ROI < b.ROI:
			return 1
		}
		return 0
	})
	return out
}

// Options controls Project.
type Options struct {
	Top int
	// Bottom players are listed separately only when the room holds more
	// than BottomThreshold players.
	Bottom          int
	BottomThreshold int
}

// DefaultOptions matches the spectator screen: top 10, and bottom 3 once
// more than 13 players have joined.
func DefaultOptions() Options {
	return Options{Top: 10, Bottom: 3, BottomThreshold: 13}
}

// Board is the spectator projection of a ranked room.
type Board struct {
	Top []model.Player `json:"top"`
	// Bottom is worst-first.
	Bottom    []model.Player `json:"bottom"`
	Remaining int            `json:"remaining"`
	Total     int            `json:"total"`
}

// Project ranks players and splits them into the visible top and bottom
// groups plus a count of those in neither.
func Project(players []model.Player, opts Options) Board {
	ranked := Rank(players)
	n := len(ranked)
	b := Board{Total: n, Top: []model.Player{}, Bottom: []model.Player{}}

	top := min(opts.Top, n)
	b.Top = append(b.Top, ranked[:top]...)

	bottom := 0
	if n > opts.BottomThreshold {
		bottom = min(opts.Bottom, n-top)
	}
	for i := n - 1; i >= n-bottom; i-- {
		b.Bottom = append(b.Bottom, ranked[i])
	}
	b.Remaining = max(0, n-top-bottom)
	return b
}

// Exposure summarises how much of the room's capital is in the market.
type Exposure struct {
	Invested      float64 `json:"invested"`
	TotalAssets   float64 `json:"total_assets"`
	PositionRatio float64 `json:"position_ratio"` // percent
	Holders       int     `json:"holders"`
}

// RoomExposure aggregates the marked position value of every player at nav.
func RoomExposure(players []model.Player, nav float64) Exposure {
	var e Exposure
	for _, p := range players {
		v := p.Units * nav
		e.Invested += v
		e.TotalAssets += p.TotalAssets
		if p.Units > 0 {
			e.Holders++
		}
	}
	if e.TotalAssets > 0 {
		e.PositionRatio = e.Invested / e.TotalAssets * 100
	}
	return e
}
