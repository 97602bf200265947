// Package room implements the host-authoritative game session: the room
// lifecycle state machine, the shared day cursor and its autoplay clock, and
// the set of rooms a host process serves.
//
// The Coordinator is the only writer of a room's day cursor. Players never
// advance days themselves; they adopt the days published here.
package room

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundbattle/battle-engine/internal/gate"
	"github.com/fundbattle/battle-engine/internal/indicator"
	"github.com/fundbattle/battle-engine/internal/ledger"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/stream"
)

var (
	ErrInvalidTransition = errors.New("room: invalid transition")
	ErrGateHeld          = errors.New("room: trade gate is held")
	ErrSeriesExhausted   = errors.New("room: series exhausted")
	ErrNotHost           = errors.New("room: host token required")
	ErrJoinClosed        = errors.New("room: not accepting players")
	ErrRoomNotFound      = errors.New("room: not found")
	ErrUnknownPlayer     = errors.New("room: unknown player")
	ErrSeriesTooShort    = errors.New("room: series too short to play")
)

const (
	// DefaultCursor is the day shown in a room that has not started.
	DefaultCursor = 400

	// MinBuffer is the history kept before the earliest start day so that
	// indicators have data from the first played day.
	MinBuffer = 100

	// DefaultYears is the default game length.
	DefaultYears = 5

	minTimeOffset  = 10
	timeOffsetSpan = 50
)

// Source identifies what advanced the day cursor.
type Source string

const (
	SourceManual   Source = "manual"
	SourceAutoplay Source = "autoplay"
)

// Config holds the tunables of a Coordinator.
type Config struct {
	Years          int
	InitialCapital float64
	GateCountdown  time.Duration
	DefaultFund    string
	Overlay        indicator.OverlayConfig

	Publisher stream.Publisher
	Logger    *slog.Logger
	Rand      *rand.Rand
	Now       func() time.Time
	Ticker    TickerFunc
}

// DefaultConfig returns the standard game configuration.
func DefaultConfig() Config {
	return Config{
		Years:          DefaultYears,
		InitialCapital: ledger.DefaultInitialCapital,
		GateCountdown:  gate.DefaultCountdown,
		DefaultFund:    series.SyntheticFundID,
		Overlay:        indicator.DefaultOverlayConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Years <= 0 {
		c.Years = d.Years
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = d.InitialCapital
	}
	if c.GateCountdown <= 0 {
		c.GateCountdown = d.GateCountdown
	}
	if c.DefaultFund == "" {
		c.DefaultFund = d.DefaultFund
	}
	if c.Overlay.Lookback <= 0 {
		c.Overlay = d.Overlay
	}
	if c.Publisher == nil {
		c.Publisher = stream.Discard
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Coordinator owns one room. All methods are safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	room    model.Room
	series  series.Series
	memo    *indicator.Memo
	notice  string
	gate    *gate.Gate
	players map[string]*model.Player
	order   []string
	clock   *Clock
}

// New creates a waiting room.
func New(id string, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg: cfg,
		room: model.Room{
			ID:        id,
			Status:    model.StatusWaiting,
			DayCursor: DefaultCursor,
			FundID:    cfg.DefaultFund,
			HostToken: uuid.NewString(),
			CreatedAt: cfg.Now().UTC(),
		},
		gate:    gate.New(gate.WithCountdown(cfg.GateCountdown), gate.WithClock(cfg.Now)),
		players: make(map[string]*model.Player),
	}
	c.clock = newClock(c, cfg.Ticker, cfg.Logger)
	c.clock.onChange = c.autoplayChanged
	return c
}

// ID returns the room id.
func (c *Coordinator) ID() string { return c.room.ID }

// InitialCapital is the starting cash of every player in the room.
func (c *Coordinator) InitialCapital() float64 { return c.cfg.InitialCapital }

// Authorize checks a host token.
func (c *Coordinator) Authorize(token string) error {
	c.mu.Lock()
	want := c.room.HostToken
	c.mu.Unlock()
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		return ErrNotHost
	}
	return nil
}

// Room returns a copy of the room state.
func (c *Coordinator) Room() model.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Series returns the series the room is playing, if started.
func (c *Coordinator) Series() (series.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.series, c.memo != nil
}

// Notice is the data-source notice attached at start, if any.
func (c *Coordinator) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// NAV returns the price at the current day cursor, or 0 before start.
func (c *Coordinator) NAV() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.series.NAV(c.room.DayCursor, 0)
}

// Start moves a waiting room to playing on s. The start day is drawn so
// that at least the configured game length of future points remains, and
// never earlier than MinBuffer.
func (c *Coordinator) Start(ctx context.Context, s series.Series, notice string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room.Status != model.StatusWaiting {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.room.Status)
	}
	if s.Len() < 2 {
		return ErrSeriesTooShort
	}

	start := PickStartDay(c.cfg.Rand, s.Len(), c.cfg.Years)

	c.series = s
	c.memo = indicator.NewMemo(s.Points())
	c.notice = notice
	c.room.FundID = s.FundID
	c.room.StartDay = start
	c.room.DayCursor = start
	c.room.TimeOffset = PickTimeOffset(c.cfg.Rand)
	c.room.Status = model.StatusPlaying

	c.cfg.Logger.Info("room started", "room", c.room.ID, "fund", s.FundID, "start_day", start, "points", s.Len())
	e := c.event(stream.StatusChanged)
	e.FundID = s.FundID
	e.Notice = notice
	c.publish(ctx, e)
	return nil
}

// Advance moves the day cursor forward by one. It is refused while the trade
// gate is held. Reaching the last point ends the room and returns
// ErrSeriesExhausted alongside the final day.
func (c *Coordinator) Advance(ctx context.Context, src Source) (int, error) {
	c.mu.Lock()
	day, ended, err := c.advanceLocked(ctx, src)
	c.mu.Unlock()
	if ended {
		c.clock.Stop()
	}
	return day, err
}

func (c *Coordinator) advanceLocked(ctx context.Context, src Source) (int, bool, error) {
	if c.room.Status != model.StatusPlaying {
		return c.room.DayCursor, false, fmt.Errorf("%w: advance while %s", ErrInvalidTransition, c.room.Status)
	}
	if !c.gate.Empty() {
		return c.room.DayCursor, false, ErrGateHeld
	}
	last := c.series.Len() - 1
	if c.room.DayCursor >= last {
		c.endLocked(ctx)
		return c.room.DayCursor, true, ErrSeriesExhausted
	}

	c.room.DayCursor++
	e := c.event(stream.DayAdvanced)
	e.Source = string(src)
	c.publish(ctx, e)

	if c.room.DayCursor >= last {
		c.endLocked(ctx)
		return c.room.DayCursor, true, ErrSeriesExhausted
	}
	return c.room.DayCursor, false, nil
}

// End moves a playing room to ended.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if c.room.Status != model.StatusPlaying {
		status := c.room.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: end from %s", ErrInvalidTransition, status)
	}
	c.endLocked(ctx)
	c.mu.Unlock()
	c.clock.Stop()
	return nil
}

func (c *Coordinator) endLocked(ctx context.Context) {
	c.room.Status = model.StatusEnded
	c.cfg.Logger.Info("room ended", "room", c.room.ID, "day", c.room.DayCursor)
	c.publish(ctx, c.event(stream.StatusChanged))
}

// Reset returns the room to waiting, clearing every player and gate entry
// and restoring the default cursor and indicators. The fund choice is kept.
func (c *Coordinator) Reset(ctx context.Context) {
	c.clock.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gate.ForceClear()
	clear(c.players)
	c.order = nil
	c.series = series.Series{}
	c.memo = nil
	c.notice = ""
	c.room.Status = model.StatusWaiting
	c.room.DayCursor = DefaultCursor
	c.room.StartDay = 0
	c.room.TimeOffset = 0
	c.room.Indicators = model.Indicators{}

	c.cfg.Logger.Info("room reset", "room", c.room.ID)
	c.publish(ctx, c.event(stream.PlayerRemoved))
	c.publish(ctx, c.event(stream.GateChanged))
	c.publish(ctx, c.event(stream.StatusChanged))
}

// SetIndicators changes the overlays shown to every client.
func (c *Coordinator) SetIndicators(ctx context.Context, ind model.Indicators) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.room.Indicators = ind
	e := c.event(stream.ConfigChanged)
	e.Indicators = &ind
	c.publish(ctx, e)
}

// SetFund picks the fund for the next start. Only allowed while waiting.
func (c *Coordinator) SetFund(ctx context.Context, fundID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room.Status != model.StatusWaiting {
		return fmt.Errorf("%w: change fund while %s", ErrInvalidTransition, c.room.Status)
	}
	c.room.FundID = fundID
	e := c.event(stream.ConfigChanged)
	e.FundID = fundID
	c.publish(ctx, e)
	return nil
}

// Join admits a player while the room is waiting or playing. A known id
// rejoins and keeps its record; an empty id is assigned.
func (c *Coordinator) Join(ctx context.Context, p model.Player) (model.Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room.Status == model.StatusEnded {
		return model.Player{}, ErrJoinClosed
	}
	if existing, ok := c.players[p.ID]; ok && p.ID != "" {
		if p.Nickname != "" {
			existing.Nickname = p.Nickname
		}
		if p.Contact != "" {
			existing.Contact = p.Contact
		}
		c.publishPlayer(ctx, existing)
		return *existing, nil
	}

	now := c.cfg.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.RoomID = c.room.ID
	p.TotalAssets = c.cfg.InitialCapital
	p.ROI = 0
	p.Units = 0
	p.JoinedAt = now
	p.UpdatedAt = now
	c.players[p.ID] = &p
	c.order = append(c.order, p.ID)

	c.cfg.Logger.Info("player joined", "room", c.room.ID, "player", p.ID, "nickname", p.Nickname)
	c.publishPlayer(ctx, &p)
	return p, nil
}

// UpdatePlayer records a player's self-reported snapshot.
func (c *Coordinator) UpdatePlayer(ctx context.Context, s model.Snapshot) (model.Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.players[s.PlayerID]
	if !ok {
		return model.Player{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, s.PlayerID)
	}
	p.ROI = s.ROI
	p.TotalAssets = s.TotalAssets
	p.Units = s.Units
	p.UpdatedAt = c.cfg.Now().UTC()
	c.publishPlayer(ctx, p)
	return *p, nil
}

// Players returns the players in join order.
func (c *Coordinator) Players() []model.Player {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Player, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.players[id])
	}
	return out
}

// RaiseGate adds playerID to the trade gate. If the gate was empty the
// autoplay clock is stopped.
func (c *Coordinator) RaiseGate(ctx context.Context, playerID string) error {
	c.mu.Lock()
	if c.room.Status != model.StatusPlaying {
		status := c.room.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: raise gate while %s", ErrInvalidTransition, status)
	}
	p, ok := c.players[playerID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	closed := c.gate.Raise(model.GateEntry{PlayerID: p.ID, Nickname: p.Nickname})
	c.publishGate(ctx)
	c.mu.Unlock()

	if closed {
		c.clock.Stop()
	}
	return nil
}

// LowerGate removes playerID's entry. Autoplay does not restart when the
// gate empties.
func (c *Coordinator) LowerGate(ctx context.Context, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.gate.Has(playerID) {
		return
	}
	c.gate.Lower(playerID)
	c.publishGate(ctx)
}

// ForceClearGate removes every entry and returns how many were removed.
func (c *Coordinator) ForceClearGate(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.gate.ForceClear()
	if n > 0 {
		c.cfg.Logger.Info("gate force-cleared", "room", c.room.ID, "entries", n)
	}
	c.publishGate(ctx)
	return n
}

// GateStatus is the gate as shown to clients.
type GateStatus struct {
	Entries   []model.GateEntry `json:"entries"`
	Held      bool              `json:"held"`
	Remaining time.Duration     `json:"remaining_ns"`
}

func (c *Coordinator) Gate() GateStatus {
	remaining, active := c.gate.Countdown()
	return GateStatus{Entries: c.gate.Entries(), Held: active, Remaining: remaining}
}

// Chart returns the overlay rows up to the current day with the room's
// indicator selection applied. Nothing past the cursor is included.
func (c *Coordinator) Chart() []indicator.Row {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memo == nil {
		return []indicator.Row{}
	}
	rows := indicator.Overlay(c.memo, c.room.DayCursor, c.cfg.Overlay)
	return indicator.Filter(rows, c.room.Indicators)
}

// Autoplay starts the clock at speed, or stops it when speed is 0.
func (c *Coordinator) Autoplay(ctx context.Context, speed time.Duration) error {
	if speed == 0 {
		c.clock.Stop()
		return nil
	}
	if !ValidSpeed(speed) {
		return fmt.Errorf("%w: %s", ErrInvalidSpeed, speed)
	}

	c.mu.Lock()
	if c.room.Status != model.StatusPlaying {
		status := c.room.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: autoplay while %s", ErrInvalidTransition, status)
	}
	if !c.gate.Empty() {
		c.mu.Unlock()
		return ErrGateHeld
	}
	c.mu.Unlock()

	c.clock.Play(ctx, speed)
	return nil
}

func (c *Coordinator) autoplayChanged(speed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.event(stream.ConfigChanged)
	e.AutoplayMS = int(speed / time.Millisecond)
	c.publish(context.Background(), e)
}

// Autoplaying reports the running clock speed, or 0.
func (c *Coordinator) Autoplaying() time.Duration { return c.clock.Speed() }

// Close stops the clock.
func (c *Coordinator) Close() { c.clock.Stop() }

// Dissolve stops the clock and tells every subscriber the room is gone.
// Players receiving RoomClosed drop their session for it.
func (c *Coordinator) Dissolve(ctx context.Context) {
	c.clock.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate.ForceClear()
	c.cfg.Logger.Info("room dissolved", "room", c.room.ID)
	c.publish(ctx, c.event(stream.RoomClosed))
}

func (c *Coordinator) event(t stream.EventType) stream.Event {
	r := c.room
	return stream.Event{
		Type:   t,
		RoomID: c.room.ID,
		Day:    c.room.DayCursor,
		Status: c.room.Status,
		Room:   &r,
		NAV:    c.series.NAV(c.room.DayCursor, 0),
		At:     c.cfg.Now().UTC(),
	}
}

func (c *Coordinator) publishPlayer(ctx context.Context, p *model.Player) {
	e := c.event(stream.PlayerUpdated)
	cp := *p
	e.Player = &cp
	c.publish(ctx, e)
}

func (c *Coordinator) publishGate(ctx context.Context) {
	e := c.event(stream.GateChanged)
	e.Gate = c.gate.Entries()
	c.publish(ctx, e)
}

// publish is called with c.mu held so that events leave in state order.
func (c *Coordinator) publish(ctx context.Context, e stream.Event) {
	if err := c.cfg.Publisher.Publish(ctx, e); err != nil {
		c.cfg.Logger.Warn("publish room event failed", "room", e.RoomID, "type", e.Type, "err", err)
	}
}

// PickStartDay draws a start index for a series of length points so that
// years of trading days remain after it, never earlier than MinBuffer. Short
// series start late enough to keep at least one day to play.
func PickStartDay(rng *rand.Rand, length, years int) int {
	required := years * series.TradingDaysPerYear
	maxStart := max(MinBuffer, length-required)
	start := MinBuffer
	if maxStart > MinBuffer {
		start = MinBuffer + rng.IntN(maxStart-MinBuffer)
	}
	if start > length-2 {
		start = max(0, length-2)
	}
	return start
}

// PickTimeOffset draws the cosmetic year shift in [10, 60).
func PickTimeOffset(rng *rand.Rand) int {
	return minTimeOffset + rng.IntN(timeOffsetSpan)
}

// DisplayDate shifts the year of a YYYY-MM-DD date by offset so players
// cannot recognise the historical period. Unparseable dates are returned
// unchanged.
func DisplayDate(date string, offset int) string {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return t.AddDate(offset, 0, 0).Format(time.DateOnly)
}
