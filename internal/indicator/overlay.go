package indicator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fundbattle/battle-engine/internal/model"
)

var ErrInvalidRiver = errors.New("indicator: invalid river settings")

// Chart defaults.
const (
	ShortWindow     = 20
	LongWindow      = 60
	DefaultLookback = 330
)

// OverlayConfig selects the river style for Overlay. The river is centred on
// the long (60-day) moving average.
type OverlayConfig struct {
	Lookback     int
	Mode         BandMode
	WidthPercent float64
	K            float64
}

// DefaultOverlayConfig is a fixed ±10% river over a 330-day window.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{Lookback: DefaultLookback, Mode: Fixed, WidthPercent: 10, K: 2}
}

// ParseBandMode accepts "fixed" or "dynamic" in any case.
func ParseBandMode(s string) (BandMode, error) {
	switch m := BandMode(strings.ToLower(strings.TrimSpace(s))); m {
	case Fixed, Dynamic:
		return m, nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrInvalidRiver, s)
}

// Validate checks the setting the mode uses: the width for Fixed, the σ
// multiplier for Dynamic.
func (c OverlayConfig) Validate() error {
	switch c.Mode {
	case Fixed:
		if c.WidthPercent <= 0 || c.WidthPercent >= 100 {
			return fmt.Errorf("%w: width %v%% must be in (0, 100)", ErrInvalidRiver, c.WidthPercent)
		}
	case Dynamic:
		if c.K <= 0 {
			return fmt.Errorf("%w: multiplier %v must be positive", ErrInvalidRiver, c.K)
		}
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidRiver, c.Mode)
	}
	return nil
}

// Row is one chart row. Indicator fields are nil until enough history exists.
type Row struct {
	Index       int      `json:"index"`
	Date        string   `json:"date"`
	NAV         float64  `json:"nav"`
	MA20        *float64 `json:"ma20"`
	MA60        *float64 `json:"ma60"`
	RiverTop    *float64 `json:"river_top"`
	RiverBottom *float64 `json:"river_bottom"`
}

// Overlay builds the chart rows for the Lookback days ending at cursor.
// Points after cursor are never read, so no future prices leak to clients.
func Overlay(memo *Memo, cursor int, cfg OverlayConfig) []Row {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cursor >= len(memo.points) {
		cursor = len(memo.points) - 1
	}
	if cursor < 0 {
		return nil
	}
	start := cursor - cfg.Lookback
	if start < 0 {
		start = 0
	}
	rows := make([]Row, 0, cursor-start+1)
	for i := start; i <= cursor; i++ {
		p := memo.points[i]
		row := Row{Index: i, Date: p.Date, NAV: p.NAV}
		if s, ok := memo.Stats(ShortWindow, i); ok {
			row.MA20 = ptr(s.Mean)
		}
		if s, ok := memo.Stats(LongWindow, i); ok {
			row.MA60 = ptr(s.Mean)
			band := RiverBand(s.Mean, BandSpec{Mode: cfg.Mode, WidthPercent: cfg.WidthPercent, StdDev: s.StdDev, K: cfg.K})
			row.RiverTop = ptr(band.Top)
			row.RiverBottom = ptr(band.Bottom)
		}
		rows = append(rows, row)
	}
	return rows
}

// Filter blanks the indicator columns the host has not switched on.
func Filter(rows []Row, ind model.Indicators) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		if !ind.MA20 {
			r.MA20 = nil
		}
		if !ind.MA60 {
			r.MA60 = nil
		}
		if !ind.River {
			r.RiverTop, r.RiverBottom = nil, nil
		}
		out[i] = r
	}
	return out
}

func ptr(f float64) *float64 { return &f }
