package player

import (
	"errors"
	"math/rand/v2"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/indicator"
	"github.com/fundbattle/battle-engine/internal/ledger"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
)

var ErrGameOver = errors.New("player: game is over")

// SoloConfig configures a single-player game.
type SoloConfig struct {
	InitialCapital  float64
	Years           int
	StopLossPercent float64
	Overlay         indicator.OverlayConfig
}

// Solo is a single-player, turn-based game. There is no host: every
// successful trade moves to the next day, and Next skips a day without
// trading. The game ends on the series' last day.
type Solo struct {
	series series.Series
	memo   *indicator.Memo
	ledger *ledger.Ledger
	cfg    SoloConfig

	start  int
	day    int
	offset int
	ended  bool
}

// NewSolo starts a game on s at a random day.
func NewSolo(s series.Series, cfg SoloConfig, rng *rand.Rand) (*Solo, error) {
	if s.Len() < 2 {
		return nil, room.ErrSeriesTooShort
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = ledger.DefaultInitialCapital
	}
	if cfg.Years <= 0 {
		cfg.Years = room.DefaultYears
	}
	if cfg.StopLossPercent <= 0 {
		cfg.StopLossPercent = DefaultStopLossPercent
	}
	if cfg.Overlay == (indicator.OverlayConfig{}) {
		cfg.Overlay = indicator.DefaultOverlayConfig()
	}

	start := room.PickStartDay(rng, s.Len(), cfg.Years)
	return &Solo{
		series: s,
		memo:   indicator.NewMemo(s.Points()),
		ledger: ledger.New(cfg.InitialCapital),
		cfg:    cfg,
		start:  start,
		day:    start,
		offset: room.PickTimeOffset(rng),
	}, nil
}

func (g *Solo) Day() int      { return g.day }
func (g *Solo) StartDay() int { return g.start }
func (g *Solo) Ended() bool   { return g.ended }
func (g *Solo) NAV() float64  { return g.series.NAV(g.day, 0) }

// Date is the current day's date, shifted by the game's year offset.
func (g *Solo) Date() string {
	p, _ := g.series.At(g.day)
	return room.DisplayDate(p.Date, g.offset)
}

// Buy invests amount at today's price and moves to the next day.
func (g *Solo) Buy(amount float64) (model.Transaction, error) {
	return g.trade(func() (model.Transaction, error) {
		return g.ledger.BuyAmount(g.day, amount, g.NAV())
	})
}

// Sell redeems amount worth of units at today's price and moves to the next
// day.
func (g *Solo) Sell(amount float64) (model.Transaction, error) {
	return g.trade(func() (model.Transaction, error) {
		return g.ledger.SellAmount(g.day, amount, g.NAV())
	})
}

// SellAll closes the whole position.
func (g *Solo) SellAll() (model.Transaction, error) {
	return g.trade(func() (model.Transaction, error) {
		return g.ledger.Sell(g.day, g.ledger.Units(), g.NAV())
	})
}

// QuickAmount is the rounded amount for a pct (0..1) shortcut.
func (g *Solo) QuickAmount(kind model.TxKind, pct float64) float64 {
	return g.ledger.QuickAmount(kind, pct, g.NAV())
}

func (g *Solo) trade(op func() (model.Transaction, error)) (model.Transaction, error) {
	if g.ended {
		return model.Transaction{}, ErrGameOver
	}
	tx, err := op()
	if err != nil {
		return model.Transaction{}, err
	}
	g.ledger.RecomputeStopLoss(g.NAV(), g.cfg.StopLossPercent)
	_ = g.step()
	return tx, nil
}

// Next moves one day forward without trading. It returns
// room.ErrSeriesExhausted once the last day has been reached.
func (g *Solo) Next() error {
	if g.ended {
		return ErrGameOver
	}
	return g.step()
}

// End finishes the game early.
func (g *Solo) End() { g.ended = true }

func (g *Solo) step() error {
	if g.day >= g.series.Len()-1 {
		g.ended = true
		return room.ErrSeriesExhausted
	}
	g.day++
	g.ledger.RecomputeStopLoss(g.NAV(), g.cfg.StopLossPercent)
	if g.day == g.series.Len()-1 {
		g.ended = true
	}
	return nil
}

// View returns the current position. Practice games have no rescue, so
// a bankrupt player simply finishes the game.
func (g *Solo) View() View {
	nav := g.NAV()
	l := g.ledger
	status := model.StatusPlaying
	if g.ended {
		status = model.StatusEnded
	}
	return View{
		Nickname:      "solo",
		Status:        status,
		Day:           g.day,
		NAV:           nav,
		Cash:          l.Cash(),
		Units:         l.Units(),
		AvgCost:       l.AvgCost(),
		TotalAssets:   l.TotalAssets(nav),
		ROI:           l.DisplayROI(nav),
		RawROI:        l.ROI(nav),
		StopLoss:      l.StopLossWarning(),
		StopLossPrice: l.StopLossPrice(g.cfg.StopLossPercent),
	}
}

// Chart returns every overlay up to today with dates shifted.
func (g *Solo) Chart() []indicator.Row {
	rows := indicator.Overlay(g.memo, g.day, g.cfg.Overlay)
	for i := range rows {
		rows[i].Date = room.DisplayDate(rows[i].Date, g.offset)
	}
	return rows
}

// Report summarises the game so far.
func (g *Solo) Report() ledger.Report {
	return g.ledger.Report(g.series.Name, g.series, g.day)
}

// Result builds the global leaderboard submission for a finished game.
func (g *Solo) Result(uid, displayName, seasonID string) battle.ResultRequest {
	r := g.Report()
	return battle.ResultRequest{
		UID:            uid,
		DisplayName:    displayName,
		FundID:         g.series.FundID,
		ROI:            r.ROI.InexactFloat64(),
		FinalAssets:    r.FinalAssets.InexactFloat64(),
		DurationMonths: r.DurationMonths,
		SeasonID:       seasonID,
	}
}
