package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/series"
)

// State is the serialisable form of a Ledger, persisted by the session
// store so a reconnecting player resumes where they left off.
type State struct {
	InitialCapital float64             `json:"initial_capital"`
	Cash           float64             `json:"cash"`
	Units          float64             `json:"units"`
	AvgCost        float64             `json:"avg_cost"`
	HighestNav     float64             `json:"highest_nav"`
	Warning        bool                `json:"warning"`
	Rescues        int                 `json:"rescues"`
	Transactions   []model.Transaction `json:"transactions,omitempty"`
}

// State captures the ledger for persistence.
func (l *Ledger) State() State {
	return State{
		InitialCapital: l.initial,
		Cash:           l.cash,
		Units:          l.units,
		AvgCost:        l.avgCost,
		HighestNav:     l.highestNav,
		Warning:        l.warning,
		Rescues:        l.rescues,
		Transactions:   l.Transactions(),
	}
}

// Restore builds a ledger from a persisted State.
func Restore(s State) *Ledger {
	l := New(s.InitialCapital)
	l.cash = s.Cash
	l.units = s.Units
	l.avgCost = s.AvgCost
	l.highestNav = s.HighestNav
	l.warning = s.Warning
	l.rescues = s.Rescues
	l.txs = append([]model.Transaction(nil), s.Transactions...)
	if l.units == 0 {
		l.avgCost = 0
	}
	return l
}

// Report is the end-of-game summary handed to export collaborators.
type Report struct {
	FundName       string              `json:"fund_name"`
	DurationMonths int                 `json:"duration_months"`
	FinalAssets    decimal.Decimal     `json:"final_assets"`
	ROI            decimal.Decimal     `json:"roi"`
	Transactions   []model.Transaction `json:"transactions"`
}

// Report summarises the game at currentDay. Duration runs from the date of
// the first transaction to the date of currentDay; it is 0 without trades.
func (l *Ledger) Report(fundName string, s series.Series, currentDay int) Report {
	nav := s.NAV(currentDay, 0)
	r := Report{
		FundName:     fundName,
		FinalAssets:  decimal.NewFromFloat(l.TotalAssets(nav)).Round(2),
		ROI:          decimal.NewFromFloat(l.DisplayROI(nav)).Round(2),
		Transactions: l.Transactions(),
	}
	if len(l.txs) == 0 {
		return r
	}
	first, ok1 := s.At(l.txs[0].Day)
	last, ok2 := s.At(currentDay)
	if ok1 && ok2 {
		r.DurationMonths = monthsBetween(first.Date, last.Date)
	}
	return r
}

func monthsBetween(from, to string) int {
	a, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return 0
	}
	b, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return 0
	}
	m := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if m < 0 {
		return 0
	}
	return m
}
