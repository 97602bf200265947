package series

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundbattle/battle-engine/internal/model"
)

// Fund is one entry of the fund library.
type Fund struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	File string `json:"file"` // path relative to the provider base URL
}

// Library maps fund ids to their price files.
type Library []Fund

// DefaultLibrary is the built-in fund catalogue.
func DefaultLibrary() Library {
	return Library{
		{ID: "fund_A", Name: "Global Equity Fund", File: "data/fund_A.json"},
		{ID: "fund_B", Name: "Asia Growth Fund", File: "data/fund_B.json"},
		{ID: "fund_C", Name: "Technology Fund", File: "data/fund_C.json"},
	}
}

// Find returns the fund with the given id.
func (l Library) Find(id string) (Fund, bool) {
	for _, f := range l {
		if f.ID == id {
			return f, true
		}
	}
	return Fund{}, false
}

// rawPoint is one record of a fund price file. NAV may be encoded as a JSON
// number or a quoted string.
type rawPoint struct {
	Date string          `json:"date"`
	NAV  decimal.Decimal `json:"nav"`
}

// ParseJSON decodes a fund price file into points. Records with a
// non-positive NAV are skipped.
func ParseJSON(data []byte) ([]model.PricePoint, error) {
	var raw []rawPoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode price file: %w", err)
	}
	points := make([]model.PricePoint, 0, len(raw))
	for _, r := range raw {
		if !r.NAV.IsPositive() {
			continue
		}
		points = append(points, model.PricePoint{
			Index: len(points),
			Date:  r.Date,
			NAV:   r.NAV.InexactFloat64(),
		})
	}
	return points, nil
}

// HTTPProvider fetches fund price files from a static base URL.
type HTTPProvider struct {
	BaseURL string
	Library Library
	HTTP    *http.Client
}

// NewHTTPProvider creates a provider for the given base URL and library.
func NewHTTPProvider(baseURL string, lib Library) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Library: lib,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) Load(ctx context.Context, fundID string) (Series, error) {
	fund, ok := p.Library.Find(fundID)
	if !ok {
		return Series{}, fmt.Errorf("%w: %s", ErrUnknownFund, fundID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/"+strings.TrimLeft(fund.File, "/"), nil)
	if err != nil {
		return Series{}, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Series{}, fmt.Errorf("%w: %v", ErrDataSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Series{}, fmt.Errorf("%w: %s returned %s", ErrDataSourceUnavailable, fund.File, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Series{}, fmt.Errorf("%w: read %s: %v", ErrDataSourceUnavailable, fund.File, err)
	}
	points, err := ParseJSON(body)
	if err != nil {
		return Series{}, fmt.Errorf("%w: %v", ErrDataSourceUnavailable, err)
	}
	if len(points) < MinPoints {
		return Series{}, fmt.Errorf("%w: %s has only %d points", ErrDataSourceUnavailable, fund.File, len(points))
	}
	return New(fund.ID, fund.Name, points), nil
}

// Loaded is the result of a fallback-aware load. Notice is non-empty when
// the synthetic series replaced the requested fund.
type Loaded struct {
	Series Series
	Notice string
}

// Fallback wraps a Provider and substitutes a synthetic series when the
// provider fails, so the game continues rather than aborting.
type Fallback struct {
	Provider Provider
	Gen      GenOptions
	Rand     *rand.Rand

	mu sync.Mutex // guards Rand
}

// NewFallback creates a Fallback with default walk options.
func NewFallback(p Provider, rng *rand.Rand) *Fallback {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Fallback{Provider: p, Gen: DefaultGenOptions(), Rand: rng}
}

// Load returns the requested fund, or a synthetic series plus a
// user-visible notice when it cannot be loaded.
func (f *Fallback) Load(ctx context.Context, fundID string) Loaded {
	if fundID == SyntheticFundID {
		return Loaded{Series: f.generate()}
	}
	err := fmt.Errorf("%w: no price source configured", ErrDataSourceUnavailable)
	if f.Provider != nil {
		var s Series
		if s, err = f.Provider.Load(ctx, fundID); err == nil {
			return Loaded{Series: s}
		}
	}
	slog.Warn("price source failed, using synthetic series", "fund", fundID, "err", err)
	return Loaded{
		Series: f.generate(),
		Notice: fmt.Sprintf("could not load fund %s (%v); switched to a random simulated fund", fundID, err),
	}
}

func (f *Fallback) generate() Series {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Generate(f.Gen, f.Rand)
}
