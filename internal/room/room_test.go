package room

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/stream"
)

type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) Publish(_ context.Context, e stream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t stream.EventType) []stream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []stream.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func flatSeries(n int) series.Series {
	pts := make([]model.PricePoint, n)
	for i := range pts {
		pts[i] = model.PricePoint{Date: "2001-03-04", NAV: 10 + float64(i%7)}
	}
	return series.New("fund_A", "Global Equity Fund", pts)
}

func newTestRoom(t *testing.T) (*Coordinator, *recorder, *manualTicker) {
	t.Helper()
	rec := &recorder{}
	tick := &manualTicker{ch: make(chan time.Time, 1)}
	c := New("1234", Config{
		Publisher: rec,
		Rand:      rand.New(rand.NewPCG(3, 4)),
		Ticker:    func(time.Duration) Ticker { return tick },
	})
	t.Cleanup(c.Close)
	return c, rec, tick
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNew_Waiting(t *testing.T) {
	c, _, _ := newTestRoom(t)
	r := c.Room()
	if r.Status != model.StatusWaiting || r.DayCursor != DefaultCursor || r.HostToken == "" {
		t.Errorf("unexpected new room: %+v", r)
	}
	if _, err := c.Advance(context.Background(), SourceManual); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before start, got %v", err)
	}
}

func TestStart_StartDayLeavesGameLength(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		c := New("1234", Config{Rand: rand.New(rand.NewPCG(seed, seed))})
		s := flatSeries(3000)
		if err := c.Start(context.Background(), s, ""); err != nil {
			t.Fatalf("start: %v", err)
		}
		r := c.Room()
		maxStart := s.Len() - DefaultYears*series.TradingDaysPerYear
		if r.StartDay < MinBuffer || r.StartDay >= maxStart {
			t.Fatalf("start day %d outside [%d, %d)", r.StartDay, MinBuffer, maxStart)
		}
		if r.DayCursor != r.StartDay || r.Status != model.StatusPlaying {
			t.Fatalf("unexpected room after start: %+v", r)
		}
		if r.TimeOffset < 10 || r.TimeOffset >= 60 {
			t.Fatalf("time offset %d outside [10, 60)", r.TimeOffset)
		}
	}
}

func TestStart_OnlyFromWaiting(t *testing.T) {
	c, rec, _ := newTestRoom(t)
	ctx := context.Background()
	if err := c.Start(ctx, flatSeries(3000), "fallback"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(ctx, flatSeries(3000), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	started := rec.ofType(stream.StatusChanged)
	if len(started) != 1 || started[0].Notice != "fallback" || started[0].Status != model.StatusPlaying {
		t.Errorf("unexpected status events: %+v", started)
	}
}

func TestAdvance_PublishesEveryDay(t *testing.T) {
	c, rec, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	start := c.Room().DayCursor

	for i := 1; i <= 3; i++ {
		day, err := c.Advance(ctx, SourceManual)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if day != start+i {
			t.Fatalf("expected day %d, got %d", start+i, day)
		}
	}
	days := rec.ofType(stream.DayAdvanced)
	if len(days) != 3 || days[2].Day != start+3 || days[0].Source != "manual" {
		t.Errorf("unexpected day events: %+v", days)
	}
}

func TestAdvance_BlockedByGate(t *testing.T) {
	c, _, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	a, _ := c.Join(ctx, model.Player{Nickname: "Ann"})
	b, _ := c.Join(ctx, model.Player{Nickname: "Bob"})

	c.RaiseGate(ctx, a.ID)
	c.RaiseGate(ctx, b.ID)
	if _, err := c.Advance(ctx, SourceManual); !errors.Is(err, ErrGateHeld) {
		t.Fatalf("expected ErrGateHeld, got %v", err)
	}
	c.LowerGate(ctx, a.ID)
	if _, err := c.Advance(ctx, SourceManual); !errors.Is(err, ErrGateHeld) {
		t.Fatalf("gate still held by b, got %v", err)
	}
	c.LowerGate(ctx, b.ID)
	if _, err := c.Advance(ctx, SourceManual); err != nil {
		t.Fatalf("expected advance after gate emptied, got %v", err)
	}

	c.RaiseGate(ctx, a.ID)
	c.RaiseGate(ctx, b.ID)
	if n := c.ForceClearGate(ctx); n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if _, err := c.Advance(ctx, SourceManual); err != nil {
		t.Errorf("expected advance after force-clear, got %v", err)
	}
}

func TestRaiseGate_Validation(t *testing.T) {
	c, _, _ := newTestRoom(t)
	ctx := context.Background()
	p, _ := c.Join(ctx, model.Player{Nickname: "Ann"})
	if err := c.RaiseGate(ctx, p.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition while waiting, got %v", err)
	}
	c.Start(ctx, flatSeries(3000), "")
	if err := c.RaiseGate(ctx, "ghost"); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("expected ErrUnknownPlayer, got %v", err)
	}
}

func TestAdvance_EndsAtSeriesEnd(t *testing.T) {
	c, rec, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(103), "")
	if got := c.Room().StartDay; got != MinBuffer {
		t.Fatalf("expected start at %d for a short series, got %d", MinBuffer, got)
	}

	if _, err := c.Advance(ctx, SourceManual); err != nil {
		t.Fatalf("advance: %v", err)
	}
	day, err := c.Advance(ctx, SourceManual)
	if !errors.Is(err, ErrSeriesExhausted) || day != 102 {
		t.Fatalf("expected exhaustion at 102, got day=%d err=%v", day, err)
	}
	if c.Room().Status != model.StatusEnded {
		t.Error("room should be ended")
	}
	if _, err := c.Advance(ctx, SourceManual); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after end, got %v", err)
	}
	ended := rec.ofType(stream.StatusChanged)
	if ended[len(ended)-1].Status != model.StatusEnded {
		t.Error("expected an ended status event")
	}
}

func TestStart_TinySeriesStillPlayable(t *testing.T) {
	c, _, _ := newTestRoom(t)
	c.Start(context.Background(), flatSeries(50), "")
	if got := c.Room().StartDay; got != 48 {
		t.Errorf("expected start 48, got %d", got)
	}
	if err := c.Start(context.Background(), flatSeries(1), ""); err == nil {
		t.Error("expected error starting a started room")
	}
	d := New("1111", Config{})
	if err := d.Start(context.Background(), flatSeries(1), ""); !errors.Is(err, ErrSeriesTooShort) {
		t.Errorf("expected ErrSeriesTooShort, got %v", err)
	}
}

func TestJoin_AndUpdatePlayer(t *testing.T) {
	c, rec, _ := newTestRoom(t)
	ctx := context.Background()

	p, err := c.Join(ctx, model.Player{Nickname: "Ann", Contact: "ann@example.com"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.ID == "" || p.RoomID != "1234" || p.TotalAssets != 1_000_000 {
		t.Errorf("unexpected player: %+v", p)
	}
	again, _ := c.Join(ctx, model.Player{ID: p.ID})
	if again.ID != p.ID || again.Nickname != "Ann" || len(c.Players()) != 1 {
		t.Errorf("rejoin should keep the record: %+v", again)
	}

	up, err := c.UpdatePlayer(ctx, model.Snapshot{PlayerID: p.ID, ROI: 3.5, TotalAssets: 1_035_000, Units: 10})
	if err != nil || up.ROI != 3.5 {
		t.Fatalf("update: %+v %v", up, err)
	}
	if _, err := c.UpdatePlayer(ctx, model.Snapshot{PlayerID: "ghost"}); !errors.Is(err, ErrUnknownPlayer) {
		t.Errorf("expected ErrUnknownPlayer, got %v", err)
	}
	if n := len(rec.ofType(stream.PlayerUpdated)); n != 3 {
		t.Errorf("expected 3 player events, got %d", n)
	}
}

func TestJoin_ClosedWhenEnded(t *testing.T) {
	c, _, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	if err := c.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := c.Join(ctx, model.Player{Nickname: "Late"}); !errors.Is(err, ErrJoinClosed) {
		t.Errorf("expected ErrJoinClosed, got %v", err)
	}
	if err := c.End(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on double end, got %v", err)
	}
}

func TestReset(t *testing.T) {
	c, _, _ := newTestRoom(t)
	ctx := context.Background()
	c.SetFund(ctx, "fund_B")
	c.Start(ctx, flatSeries(3000), "")
	p, _ := c.Join(ctx, model.Player{Nickname: "Ann"})
	c.RaiseGate(ctx, p.ID)
	c.SetIndicators(ctx, model.Indicators{MA20: true, River: true})
	c.End(ctx)

	c.Reset(ctx)
	r := c.Room()
	if r.Status != model.StatusWaiting || r.DayCursor != DefaultCursor || r.Indicators != (model.Indicators{}) {
		t.Errorf("unexpected room after reset: %+v", r)
	}
	if len(c.Players()) != 0 || c.Gate().Held {
		t.Error("reset should clear players and gate")
	}
	if len(c.Chart()) != 0 {
		t.Error("no chart before the next start")
	}
}

func TestDissolve_AnnouncesClosure(t *testing.T) {
	c, rec, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	p, _ := c.Join(ctx, model.Player{Nickname: "Ann"})
	if err := c.Autoplay(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	c.RaiseGate(ctx, p.ID)

	c.Dissolve(ctx)
	closed := rec.ofType(stream.RoomClosed)
	if len(closed) != 1 || closed[0].RoomID != "1234" {
		t.Fatalf("expected one room_closed event, got %+v", closed)
	}
	if c.Autoplaying() != 0 || c.Gate().Held {
		t.Error("dissolve should stop the clock and clear the gate")
	}
}

func TestSetFund_OnlyWhileWaiting(t *testing.T) {
	c, rec, _ := newTestRoom(t)
	ctx := context.Background()
	if err := c.SetFund(ctx, "fund_C"); err != nil {
		t.Fatalf("set fund: %v", err)
	}
	if c.Room().FundID != "fund_C" {
		t.Error("fund not applied")
	}
	if cfg := rec.ofType(stream.ConfigChanged); len(cfg) != 1 || cfg[0].FundID != "fund_C" {
		t.Errorf("unexpected config events: %+v", cfg)
	}
	c.Start(ctx, flatSeries(3000), "")
	if err := c.SetFund(ctx, "fund_A"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	c, _, _ := newTestRoom(t)
	if err := c.Authorize(c.Room().HostToken); err != nil {
		t.Errorf("expected valid token, got %v", err)
	}
	for _, tok := range []string{"", "nope"} {
		if err := c.Authorize(tok); !errors.Is(err, ErrNotHost) {
			t.Errorf("token %q: expected ErrNotHost, got %v", tok, err)
		}
	}
}

func TestChart_NeverPastCursor(t *testing.T) {
	c, _, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	c.SetIndicators(ctx, model.Indicators{MA60: true})

	rows := c.Chart()
	if rows[len(rows)-1].Index != c.Room().DayCursor {
		t.Errorf("last chart row %d, cursor %d", rows[len(rows)-1].Index, c.Room().DayCursor)
	}
	last := rows[len(rows)-1]
	if last.MA60 == nil || last.MA20 != nil {
		t.Error("chart should carry only the enabled indicators")
	}
}

func TestClock_AutoplayAdvancesAndStopsOnGate(t *testing.T) {
	c, rec, tick := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	start := c.Room().DayCursor
	p, _ := c.Join(ctx, model.Player{Nickname: "Ann"})

	if err := c.Autoplay(ctx, 300*time.Millisecond); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
	if err := c.Autoplay(ctx, 500*time.Millisecond); err != nil {
		t.Fatalf("autoplay: %v", err)
	}
	tick.ch <- time.Now()
	eventually(t, func() bool { return c.Room().DayCursor == start+1 })
	if days := rec.ofType(stream.DayAdvanced); days[0].Source != "autoplay" {
		t.Errorf("expected autoplay source, got %q", days[0].Source)
	}

	c.RaiseGate(ctx, p.ID)
	if c.Autoplaying() != 0 {
		t.Fatal("raising the gate must stop autoplay")
	}
	c.LowerGate(ctx, p.ID)
	if c.Autoplaying() != 0 {
		t.Error("autoplay must not restart when the gate empties")
	}
	if err := c.Autoplay(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("restart autoplay: %v", err)
	}
	if c.Autoplaying() != 200*time.Millisecond {
		t.Errorf("expected 200ms, got %v", c.Autoplaying())
	}
	if err := c.Autoplay(ctx, 0); err != nil || c.Autoplaying() != 0 {
		t.Errorf("speed 0 should stop autoplay")
	}
}

func TestClock_RefusedWhileGateHeld(t *testing.T) {
	c, _, _ := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(3000), "")
	p, _ := c.Join(ctx, model.Player{Nickname: "Ann"})
	c.RaiseGate(ctx, p.ID)
	if err := c.Autoplay(ctx, time.Second); !errors.Is(err, ErrGateHeld) {
		t.Errorf("expected ErrGateHeld, got %v", err)
	}
}

func TestClock_StopsAtSeriesEnd(t *testing.T) {
	c, _, tick := newTestRoom(t)
	ctx := context.Background()
	c.Start(ctx, flatSeries(102), "")
	c.Autoplay(ctx, time.Second)

	tick.ch <- time.Now()
	eventually(t, func() bool { return c.Room().Status == model.StatusEnded })
	eventually(t, func() bool { return c.Autoplaying() == 0 })
}

func TestDisplayDate(t *testing.T) {
	if got := DisplayDate("1995-03-14", 23); got != "2018-03-14" {
		t.Errorf("expected 2018-03-14, got %s", got)
	}
	if got := DisplayDate("bad", 5); got != "bad" {
		t.Errorf("unparseable date should pass through, got %s", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Config{})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := r.Create()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[c.ID()] {
			t.Fatalf("duplicate room id %s", c.ID())
		}
		seen[c.ID()] = true
	}
	if r.Len() != 50 {
		t.Errorf("expected 50 rooms, got %d", r.Len())
	}
	if _, err := r.Get("0000"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	for id := range seen {
		r.Delete(id)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}
