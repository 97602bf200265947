// Package player is the player side of a battle: it owns the player's
// ledger, persists it between visits, follows the host's day cursor from the
// room event stream and reports derived snapshots back to the room.
//
// A Client never advances the day itself. Trades happen within the day the
// host last published.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/joinlink"
	"github.com/fundbattle/battle-engine/internal/ledger"
	"github.com/fundbattle/battle-engine/internal/metrics"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/publish"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/session"
	"github.com/fundbattle/battle-engine/internal/stream"
)

var (
	ErrNotJoined          = errors.New("player: not joined")
	ErrNotPlaying         = errors.New("player: room is not playing")
	ErrRescueUnavailable  = errors.New("player: rescue is only available near bankruptcy")
	ErrStreamDisconnected = errors.New("player: event stream disconnected")
)

const (
	// DefaultStopLossPercent is the trailing stop used when none is set.
	DefaultStopLossPercent = 10

	// RescueThreshold is the share of initial capital below which a player
	// may ask for a rescue.
	RescueThreshold = 0.1
)

// Backend is the subset of the room service a Client uses.
type Backend interface {
	publish.Sink
	Room(ctx context.Context, roomID string) (battle.RoomView, error)
	Join(ctx context.Context, roomID string, req battle.JoinRequest) (battle.JoinResponse, error)
	RaiseGate(ctx context.Context, roomID, playerID string) error
	LowerGate(ctx context.Context, roomID, playerID string) error
	Series(ctx context.Context, roomID string) (battle.SeriesResponse, error)
}

// Config holds the Client tunables.
type Config struct {
	StopLossPercent  float64
	SnapshotInterval time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.StopLossPercent <= 0 {
		c.StopLossPercent = DefaultStopLossPercent
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = publish.DefaultInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// View is the player's current position as shown in the console.
type View struct {
	RoomID          string           `json:"room_id"`
	PlayerID        string           `json:"player_id"`
	Nickname        string           `json:"nickname"`
	Status          model.RoomStatus `json:"status"`
	Day             int              `json:"day"`
	NAV             float64          `json:"nav"`
	Cash            float64          `json:"cash"`
	Units           float64          `json:"units"`
	AvgCost         float64          `json:"avg_cost"`
	TotalAssets     float64          `json:"total_assets"`
	ROI             float64          `json:"roi"` // after rescue penalties
	RawROI          float64          `json:"raw_roi"`
	StopLoss        bool             `json:"stop_loss"`
	StopLossPrice   float64          `json:"stop_loss_price"`
	Rescues         int              `json:"rescues"`
	RescueAvailable bool             `json:"rescue_available"`
	Notice          string           `json:"notice,omitempty"`
}

// Client plays one room on behalf of one player.
type Client struct {
	backend  Backend
	sessions session.Store
	pub      *publish.Publisher
	cfg      Config
	log      *slog.Logger

	mu       sync.Mutex
	roomID   string
	playerID string
	nickname string
	contact  string
	ledger   *ledger.Ledger
	status   model.RoomStatus
	day      int
	nav      float64
	notice   string
	closed   bool
}

// NewClient creates a Client. Snapshot writes go to b, throttled on day
// changes and immediate after trades.
func NewClient(b Backend, sessions session.Store, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		backend:  b,
		sessions: sessions,
		cfg:      cfg,
		log:      cfg.Logger,
		pub: publish.New(b, "",
			publish.WithClock(cfg.Now),
			publish.WithLogger(cfg.Logger),
			publish.WithObserver(metrics.ObserveSnapshot)),
	}
}

// Open binds the client to roomID. A saved session for the same room is
// restored and re-registered with the room, and Open reports true. Without
// one the caller must Join. A missing room clears every saved session.
func (c *Client) Open(ctx context.Context, roomID string) (bool, error) {
	if !joinlink.ValidRoomID(roomID) {
		return false, fmt.Errorf("%w: %q", joinlink.ErrInvalidRoomID, roomID)
	}
	v, err := c.backend.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			if cerr := c.sessions.Clear(ctx); cerr != nil {
				c.log.Warn("clear sessions failed", "err", cerr)
			}
		}
		return false, err
	}

	c.mu.Lock()
	c.roomID = roomID
	c.playerID, c.nickname, c.contact, c.ledger = "", "", "", nil
	c.closed = false
	c.adoptLocked(v.Status, v.DayCursor, v.NAV)
	c.notice = v.Notice
	c.mu.Unlock()
	c.pub.SetRoom(roomID)

	st, err := session.Resume(ctx, c.sessions, roomID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if v.Status == model.StatusEnded {
		// The room cannot be rejoined; keep the ledger for the final view.
		c.mu.Lock()
		c.restoreLocked(st)
		c.mu.Unlock()
		return true, nil
	}
	resp, err := c.backend.Join(ctx, roomID, battle.JoinRequest{PlayerID: st.PlayerID, Nickname: st.Nickname, Contact: st.Contact})
	if err != nil {
		return false, fmt.Errorf("rejoin room %s: %w", roomID, err)
	}
	c.mu.Lock()
	st.PlayerID = resp.Player.ID
	c.restoreLocked(st)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.pub.Publish(ctx, snap, publish.Immediate())
	c.log.Info("session resumed", "room", roomID, "player", st.PlayerID)
	return true, nil
}

// Join registers a new player in the opened room.
func (c *Client) Join(ctx context.Context, nickname, contact string) (model.Player, error) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return model.Player{}, fmt.Errorf("%w: no room opened", ErrNotJoined)
	}

	resp, err := c.backend.Join(ctx, roomID, battle.JoinRequest{Nickname: nickname, Contact: contact})
	if err != nil {
		return model.Player{}, err
	}

	c.mu.Lock()
	c.playerID = resp.Player.ID
	c.nickname = resp.Player.Nickname
	c.contact = resp.Player.Contact
	c.ledger = ledger.New(resp.InitialCapital)
	c.adoptLocked(resp.Room.Status, resp.Room.DayCursor, resp.Room.NAV)
	err = c.saveLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("save session failed", "room", roomID, "err", err)
	}
	return resp.Player, nil
}

// OnEvent applies one room event: the host's day and status are adopted,
// the stop-loss is re-derived and a throttled snapshot is sent.
func (c *Client) OnEvent(ctx context.Context, e stream.Event) {
	c.mu.Lock()
	if e.RoomID != c.roomID {
		c.mu.Unlock()
		return
	}

	switch e.Type {
	case stream.RoomClosed:
		c.closeLocked(ctx)
		c.mu.Unlock()
		return
	case stream.PlayerRemoved:
		if e.Player == nil || e.Player.ID == c.playerID {
			c.dropLocked(ctx)
		}
		c.adoptLocked(e.Status, e.Day, e.NAV)
		c.mu.Unlock()
		return
	case stream.StatusChanged:
		if e.Notice != "" {
			c.notice = e.Notice
		}
	}

	c.adoptLocked(e.Status, e.Day, e.NAV)
	if c.ledger == nil || (e.Type != stream.DayAdvanced && e.Type != stream.StatusChanged) {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	if err := c.saveLocked(ctx); err != nil {
		c.log.Warn("save session failed", "room", c.roomID, "err", err)
	}
	c.mu.Unlock()

	policy := publish.Throttled(c.cfg.SnapshotInterval)
	if e.Type == stream.StatusChanged {
		policy = publish.Immediate()
	}
	c.pub.Publish(ctx, snap, policy)
}

// Run follows the room's events until ctx ends or the stream drops, in
// which case ErrStreamDisconnected is returned so the caller can reconnect.
// When the host deletes the room, either live or while the stream was down,
// the session is cleared and Run returns room.ErrRoomNotFound.
func (c *Client) Run(ctx context.Context, sub stream.Subscriber) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	events, cancel := sub.Subscribe(ctx, roomID)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return c.checkGone(ctx, roomID)
			}
			c.OnEvent(ctx, e)
			if e.Type == stream.RoomClosed && e.RoomID == roomID {
				return fmt.Errorf("%w: %s", room.ErrRoomNotFound, roomID)
			}
		}
	}
}

// Trade executes a currency-denominated buy or sell at the current day. The
// trade gate is held for the duration so the host's clock cannot move the
// price underneath it, and is lowered again even when the trade fails.
func (c *Client) Trade(ctx context.Context, kind model.TxKind, amount float64) (model.Transaction, error) {
	c.mu.Lock()
	roomID, playerID, status := c.roomID, c.playerID, c.status
	c.mu.Unlock()
	if playerID == "" {
		return model.Transaction{}, ErrNotJoined
	}
	if status != model.StatusPlaying {
		return model.Transaction{}, ErrNotPlaying
	}

	if err := c.backend.RaiseGate(ctx, roomID, playerID); err != nil {
		return model.Transaction{}, fmt.Errorf("raise trade gate: %w", err)
	}
	defer func() {
		if err := c.backend.LowerGate(context.WithoutCancel(ctx), roomID, playerID); err != nil {
			c.log.Warn("lower trade gate failed", "room", roomID, "player", playerID, "err", err)
		}
	}()

	c.mu.Lock()
	if c.ledger == nil {
		c.mu.Unlock()
		return model.Transaction{}, ErrNotJoined
	}
	var (
		tx  model.Transaction
		err error
	)
	switch kind {
	case model.Buy:
		tx, err = c.ledger.BuyAmount(c.day, amount, c.nav)
	case model.Sell:
		tx, err = c.ledger.SellAmount(c.day, amount, c.nav)
	default:
		err = fmt.Errorf("%w: unknown trade kind %q", ledger.ErrInvalidAmount, kind)
	}
	if err != nil {
		c.mu.Unlock()
		return model.Transaction{}, err
	}
	c.ledger.RecomputeStopLoss(c.nav, c.cfg.StopLossPercent)
	snap := c.snapshotLocked()
	if serr := c.saveLocked(ctx); serr != nil {
		c.log.Warn("save session failed", "room", roomID, "error", serr)
	}
	c.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(string(kind)).Inc()
	c.pub.Publish(ctx, snap, publish.Immediate())
	return tx, nil
}

// HoldGate pauses the host clock while the player deliberates. Trade
// releases it; ReleaseGate does so without trading.
func (c *Client) HoldGate(ctx context.Context) error {
	c.mu.Lock()
	roomID, playerID := c.roomID, c.playerID
	c.mu.Unlock()
	if playerID == "" {
		return ErrNotJoined
	}
	return c.backend.RaiseGate(ctx, roomID, playerID)
}

func (c *Client) ReleaseGate(ctx context.Context) error {
	c.mu.Lock()
	roomID, playerID := c.roomID, c.playerID
	c.mu.Unlock()
	if playerID == "" {
		return ErrNotJoined
	}
	return c.backend.LowerGate(ctx, roomID, playerID)
}

// QuickAmount is the rounded amount for a pct (0..1) shortcut.
func (c *Client) QuickAmount(kind model.TxKind, pct float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ledger == nil {
		return 0
	}
	return c.ledger.QuickAmount(kind, pct, c.nav)
}

// Rescue restores a nearly bankrupt ledger to its initial capital at the
// rescue ROI penalty.
func (c *Client) Rescue(ctx context.Context) error {
	c.mu.Lock()
	if c.ledger == nil {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if !c.rescueAvailableLocked() {
		c.mu.Unlock()
		return ErrRescueUnavailable
	}
	c.ledger.ApplyRescue()
	snap := c.snapshotLocked()
	if err := c.saveLocked(ctx); err != nil {
		c.log.Warn("save session failed", "room", c.roomID, "err", err)
	}
	roomID, rescues := c.roomID, c.ledger.Rescues()
	c.mu.Unlock()

	c.log.Info("rescue applied", "room", roomID, "player", snap.PlayerID, "rescues", rescues)
	c.pub.Publish(ctx, snap, publish.Immediate())
	return nil
}

// Report summarises the player's game so far from the series the room has
// revealed.
func (c *Client) Report(ctx context.Context) (ledger.Report, error) {
	c.mu.Lock()
	roomID, l := c.roomID, c.ledger
	c.mu.Unlock()
	if l == nil {
		return ledger.Report{}, ErrNotJoined
	}
	sr, err := c.backend.Series(ctx, roomID)
	if err != nil {
		return ledger.Report{}, err
	}
	s := series.New(sr.FundID, sr.Name, sr.Points)

	c.mu.Lock()
	defer c.mu.Unlock()
	return l.Report(sr.Name, s, sr.Day), nil
}

// Leave clears the saved session so the next Open starts at login.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID, c.ledger = "", nil
	return c.sessions.Clear(ctx)
}

// Ledger returns a copy of the player's ledger state.
func (c *Client) Ledger() (ledger.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ledger == nil {
		return ledger.State{}, false
	}
	return c.ledger.State(), true
}

// View returns the player's current position.
func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		RoomID:   c.roomID,
		PlayerID: c.playerID,
		Nickname: c.nickname,
		Status:   c.status,
		Day:      c.day,
		NAV:      c.nav,
		Notice:   c.notice,
	}
	if l := c.ledger; l != nil {
		v.Cash = l.Cash()
		v.Units = l.Units()
		v.AvgCost = l.AvgCost()
		v.TotalAssets = l.TotalAssets(c.nav)
		v.ROI = l.DisplayROI(c.nav)
		v.RawROI = l.ROI(c.nav)
		v.StopLoss = l.StopLossWarning()
		v.StopLossPrice = l.StopLossPrice(c.cfg.StopLossPercent)
		v.Rescues = l.Rescues()
		v.RescueAvailable = c.rescueAvailableLocked()
	}
	return v
}

// adoptLocked takes the host's status, day and price. A zero nav keeps the
// last known price.
func (c *Client) adoptLocked(status model.RoomStatus, day int, nav float64) {
	if status != "" {
		c.status = status
	}
	c.day = day
	if nav > 0 {
		c.nav = nav
	}
	if c.ledger != nil && c.nav > 0 {
		c.ledger.RecomputeStopLoss(c.nav, c.cfg.StopLossPercent)
	}
}

func (c *Client) restoreLocked(st session.State) {
	c.playerID = st.PlayerID
	c.nickname = st.Nickname
	c.contact = st.Contact
	c.ledger = ledger.Restore(st.Ledger)
	if c.nav > 0 {
		c.ledger.RecomputeStopLoss(c.nav, c.cfg.StopLossPercent)
	}
}

// checkGone asks the room service whether a dropped stream's room still
// exists.
func (c *Client) checkGone(ctx context.Context, roomID string) error {
	_, err := c.backend.Room(ctx, roomID)
	if !errors.Is(err, room.ErrRoomNotFound) {
		return ErrStreamDisconnected
	}
	c.mu.Lock()
	c.closeLocked(ctx)
	c.mu.Unlock()
	return err
}

// Closed reports whether the host deleted the room.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) closeLocked(ctx context.Context) {
	if c.closed {
		return
	}
	c.log.Info("room closed by host", "room", c.roomID, "player", c.playerID)
	c.closed = true
	c.status = model.StatusEnded
	c.playerID, c.ledger = "", nil
	if err := c.sessions.Clear(ctx); err != nil {
		c.log.Warn("clear sessions failed", "err", err)
	}
}

// dropLocked forgets the player after the host removed it.
func (c *Client) dropLocked(ctx context.Context) {
	if c.playerID == "" {
		return
	}
	c.log.Info("removed from room", "room", c.roomID, "player", c.playerID)
	c.playerID, c.ledger = "", nil
	if err := c.sessions.Clear(ctx); err != nil {
		c.log.Warn("clear sessions failed", "err", err)
	}
}

func (c *Client) rescueAvailableLocked() bool {
	return c.ledger.TotalAssets(c.nav) < c.ledger.InitialCapital()*RescueThreshold
}

func (c *Client) snapshotLocked() model.Snapshot {
	return c.ledger.Snapshot(c.playerID, c.nav)
}

func (c *Client) saveLocked(ctx context.Context) error {
	if c.ledger == nil {
		return nil
	}
	return c.sessions.Save(ctx, c.roomID, session.State{
		RoomID:   c.roomID,
		PlayerID: c.playerID,
		Nickname: c.nickname,
		Contact:  c.contact,
		Ledger:   c.ledger.State(),
		SavedAt:  c.cfg.Now().UTC(),
	})
}
