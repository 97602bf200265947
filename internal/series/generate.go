package series

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/fundbattle/battle-engine/internal/model"
)

// TradingDaysPerYear converts game years into series points.
const TradingDaysPerYear = 250

// GenOptions controls the synthetic random walk.
type GenOptions struct {
	Years        int
	StartPrice   float64
	Floor        float64
	RegimeEvery  int // points between drift/volatility resamples
	StartDate    time.Time
	DaysPerPoint float64
}

// DefaultGenOptions returns the walk used when no fund data is available.
func DefaultGenOptions() GenOptions {
	return GenOptions{
		Years:        30,
		StartPrice:   100,
		Floor:        5,
		RegimeEvery:  200,
		StartDate:    time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC),
		DaysPerPoint: 1.4,
	}
}

// SyntheticFundID identifies generated series.
const SyntheticFundID = "random"

// Generate produces a synthetic NAV series. The walk carries a slight upward
// bias; drift and volatility are resampled every RegimeEvery points and the
// price never drops below Floor.
func Generate(opts GenOptions, rng *rand.Rand) Series {
	def := DefaultGenOptions()
	if opts.Years <= 0 {
		opts.Years = def.Years
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = def.StartPrice
	}
	if opts.Floor <= 0 {
		opts.Floor = def.Floor
	}
	if opts.RegimeEvery <= 0 {
		opts.RegimeEvery = def.RegimeEvery
	}
	if opts.StartDate.IsZero() {
		opts.StartDate = def.StartDate
	}
	if opts.DaysPerPoint <= 0 {
		opts.DaysPerPoint = def.DaysPerPoint
	}

	total := opts.Years * TradingDaysPerYear
	points := make([]model.PricePoint, 0, total)

	price := opts.StartPrice
	trend := 0.0
	volatility := 0.015
	for i := 0; i < total; i++ {
		change := (rng.Float64() - 0.48 + trend) * volatility
		price *= 1 + change
		if price < opts.Floor {
			price = opts.Floor + rng.Float64()
		}
		if i%opts.RegimeEvery == 0 {
			trend = (rng.Float64() - 0.5) * 0.003
			volatility = 0.01 + rng.Float64()*0.02
		}
		date := opts.StartDate.AddDate(0, 0, int(float64(i)*opts.DaysPerPoint))
		points = append(points, model.PricePoint{
			Index: i,
			Date:  date.Format(time.DateOnly),
			NAV:   math.Round(price*100) / 100,
		})
	}

	s := New(SyntheticFundID, "Random Simulated Fund", points)
	s.Synthetic = true
	return s
}
