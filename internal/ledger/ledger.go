// Package ledger implements per-player portfolio accounting against a single
// simulated fund: cash, units, weighted-average cost, realized P&L, a
// trailing stop-loss warning and ROI.
//
// Amounts and units are float64. Repeated fractional buys drift, so two
// tolerances absorb it at position-closing boundaries: a sell may overshoot
// the held units by less than SellClampTolerance and is clamped to the full
// position, and a remainder below DustUnits is snapped to zero.
//
// A Ledger is owned by exactly one player and is not safe for concurrent use.
package ledger

import (
	"errors"
	"math"

	"github.com/google/uuid"

	"github.com/fundbattle/battle-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned for non-positive or non-numeric input.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrInsufficientFunds is returned when a buy exceeds available cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientUnits is returned when a sell exceeds held units beyond
	// the clamp tolerance.
	ErrInsufficientUnits = errors.New("ledger: insufficient units")
)

const (
	// SellClampTolerance is how far a sell may exceed the position and still
	// be treated as a full close.
	SellClampTolerance = 0.1

	// DustUnits is the remainder below which a position is considered closed.
	DustUnits = 1e-4

	// RescuePenalty is the ROI percentage deducted per bankruptcy rescue.
	RescuePenalty = 50.0

	// DefaultInitialCapital is the starting cash of every player.
	DefaultInitialCapital = 1_000_000.0
)

// Ledger is the mutable accounting state of one player.
type Ledger struct {
	initial    float64
	cash       float64
	units      float64
	avgCost    float64
	highestNav float64
	warning    bool
	rescues    int
	txs        []model.Transaction
}

// New creates a ledger holding initialCapital in cash.
func New(initialCapital float64) *Ledger {
	if initialCapital <= 0 {
		initialCapital = DefaultInitialCapital
	}
	return &Ledger{initial: initialCapital, cash: initialCapital}
}

func (l *Ledger) InitialCapital() float64 { return l.initial }
func (l *Ledger) Cash() float64           { return l.cash }
func (l *Ledger) Units() float64          { return l.units }
func (l *Ledger) AvgCost() float64        { return l.avgCost }
func (l *Ledger) HighestNav() float64     { return l.highestNav }
func (l *Ledger) Rescues() int            { return l.rescues }

// StopLossWarning reports the flag set by the last RecomputeStopLoss.
func (l *Ledger) StopLossWarning() bool { return l.warning }

// Transactions returns the trade log, oldest first.
func (l *Ledger) Transactions() []model.Transaction {
	return append([]model.Transaction(nil), l.txs...)
}

// Buy invests amount of cash at nav. The first buy into a flat position
// resets the stop-loss high-water mark to nav.
func (l *Ledger) Buy(day int, amount, nav float64) (model.Transaction, error) {
	if !validPositive(amount) || !validPositive(nav) {
		return model.Transaction{}, ErrInvalidAmount
	}
	if amount > l.cash {
		return model.Transaction{}, ErrInsufficientFunds
	}

	delta := amount / nav
	wasFlat := l.units == 0
	l.avgCost = (l.units*l.avgCost + amount) / (l.units + delta)
	l.units += delta
	l.cash -= amount
	if wasFlat {
		l.highestNav = nav
	}

	tx := model.Transaction{
		ID:           uuid.NewString(),
		Day:          day,
		Kind:         model.Buy,
		Price:        nav,
		Units:        delta,
		Amount:       amount,
		BalanceAfter: l.cash,
	}
	l.txs = append(l.txs, tx)
	return tx, nil
}

// Sell redeems units at nav and records the realized P&L against the
// average cost.
func (l *Ledger) Sell(day int, units, nav float64) (model.Transaction, error) {
	if !validPositive(units) || !validPositive(nav) {
		return model.Transaction{}, ErrInvalidAmount
	}
	if units > l.units {
		if units-l.units >= SellClampTolerance {
			return model.Transaction{}, ErrInsufficientUnits
		}
		units = l.units
	}
	if units == 0 {
		return model.Transaction{}, ErrInsufficientUnits
	}

	proceeds := units * nav
	pnl := proceeds - units*l.avgCost
	l.cash += proceeds
	l.units -= units
	if l.units < DustUnits {
		l.flatten()
	}

	tx := model.Transaction{
		ID:           uuid.NewString(),
		Day:          day,
		Kind:         model.Sell,
		Price:        nav,
		Units:        units,
		Amount:       proceeds,
		BalanceAfter: l.cash,
		PnL:          &pnl,
	}
	l.txs = append(l.txs, tx)
	return tx, nil
}

// BuyAmount is the currency-denominated buy used in battle mode. Input is
// compared against cash rounded to the unit, and a remainder under 1 is
// swept into the purchase so the player is never left with dust cash.
func (l *Ledger) BuyAmount(day int, amount, nav float64) (model.Transaction, error) {
	if !validPositive(amount) {
		return model.Transaction{}, ErrInvalidAmount
	}
	if amount > math.Round(l.cash) {
		return model.Transaction{}, ErrInsufficientFunds
	}
	if math.Abs(l.cash-amount) < 1 {
		amount = l.cash
	}
	return l.Buy(day, amount, nav)
}

// SellAmount is the currency-denominated sell used in battle mode. An amount
// at or above the rounded position value closes the whole position.
func (l *Ledger) SellAmount(day int, amount, nav float64) (model.Transaction, error) {
	if !validPositive(amount) || !validPositive(nav) {
		return model.Transaction{}, ErrInvalidAmount
	}
	if l.units == 0 {
		return model.Transaction{}, ErrInsufficientUnits
	}
	if amount >= math.Round(l.units*nav) {
		return l.Sell(day, l.units, nav)
	}
	units := amount / nav
	if units > l.units*1.0001 {
		return model.Transaction{}, ErrInsufficientUnits
	}
	return l.Sell(day, math.Min(units, l.units), nav)
}

// QuickAmount returns the rounded currency amount for a pct (0..1) shortcut:
// a share of cash for buys, a share of position value for sells.
func (l *Ledger) QuickAmount(kind model.TxKind, pct, nav float64) float64 {
	if kind == model.Sell {
		return math.Round(l.units * nav * pct)
	}
	return math.Round(l.cash * pct)
}

// RecomputeStopLoss raises the high-water mark to nav while a position is
// open and reports whether nav has fallen more than stopLossPercent below
// it. The flag is advisory only; nothing is liquidated.
func (l *Ledger) RecomputeStopLoss(nav, stopLossPercent float64) bool {
	if l.units <= 0 {
		l.highestNav = 0
		l.warning = false
		return false
	}
	if nav > l.highestNav {
		l.highestNav = nav
	}
	l.warning = l.highestNav > 0 && nav < l.StopLossPrice(stopLossPercent)
	return l.warning
}

// StopLossPrice is the trailing stop level for stopLossPercent, or 0 when
// flat.
func (l *Ledger) StopLossPrice(stopLossPercent float64) float64 {
	if l.units <= 0 {
		return 0
	}
	return l.highestNav * (1 - stopLossPercent/100)
}

// TotalAssets is cash plus the position marked at nav.
func (l *Ledger) TotalAssets(nav float64) float64 {
	return l.cash + l.units*nav
}

// ROI is the raw percentage return on the initial capital.
func (l *Ledger) ROI(nav float64) float64 {
	return (l.TotalAssets(nav) - l.initial) / l.initial * 100
}

// DisplayROI is the competitive ROI: raw ROI less RescuePenalty per rescue.
func (l *Ledger) DisplayROI(nav float64) float64 {
	return l.ROI(nav) - float64(l.rescues)*RescuePenalty
}

// ApplyRescue restores a depleted ledger to its initial capital at a flat
// ROI penalty.
func (l *Ledger) ApplyRescue() {
	l.cash = l.initial
	l.flatten()
	l.rescues++
}

// Snapshot returns the room-visible view of the ledger at nav.
func (l *Ledger) Snapshot(playerID string, nav float64) model.Snapshot {
	return model.Snapshot{
		PlayerID:    playerID,
		ROI:         l.DisplayROI(nav),
		TotalAssets: l.TotalAssets(nav),
		Units:       l.units,
	}
}

func (l *Ledger) flatten() {
	l.units = 0
	l.avgCost = 0
	l.highestNav = 0
	l.warning = false
}

func validPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
