package battle_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/store"
	"github.com/fundbattle/battle-engine/internal/stream"
)

type testEnv struct {
	router chi.Router
	store  *store.MemoryStore
	rooms  *room.Registry
	broker *stream.Broker
	rec    *battle.Recorder
}

// newTestEnv wires the service over an in-memory store and broker.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	broker := stream.NewBroker(nil)
	rec := battle.NewRecorder(ms, broker, nil)
	reg := room.NewRegistry(room.Config{Publisher: rec})
	funds := series.NewFallback(nil, rand.New(rand.NewPCG(1, 2)))
	svc := battle.NewService(reg, ms, funds, battle.Options{PublicURL: "https://play.example.com"})

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	t.Cleanup(func() {
		reg.Close(context.Background())
		rec.Close()
	})
	return &testEnv{router: r, store: ms, rooms: reg, broker: broker, rec: rec}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(battle.HostTokenHeader, token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func (e *testEnv) createRoom(t *testing.T) battle.CreateRoomResponse {
	t.Helper()
	w := e.do(t, "POST", "/rooms", "", nil)
	expectStatus(t, w, http.StatusCreated)
	return decode[battle.CreateRoomResponse](t, w)
}

func (e *testEnv) startedRoom(t *testing.T) (string, string) {
	t.Helper()
	created := e.createRoom(t)
	id := created.Room.ID
	w := e.do(t, "POST", "/rooms/"+id+"/start", created.HostToken, nil)
	expectStatus(t, w, http.StatusOK)
	return id, created.HostToken
}

func (e *testEnv) join(t *testing.T, roomID, nick string) model.Player {
	t.Helper()
	w := e.do(t, "POST", "/rooms/"+roomID+"/players", "", battle.JoinRequest{Nickname: nick})
	expectStatus(t, w, http.StatusCreated)
	return decode[battle.JoinResponse](t, w).Player
}

// --- Room lifecycle ---

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t)
	resp := env.createRoom(t)

	if resp.HostToken == "" {
		t.Error("expected a host token")
	}
	if resp.Room.Status != model.StatusWaiting || resp.Room.DayCursor != room.DefaultCursor {
		t.Errorf("unexpected room: %+v", resp.Room)
	}
	want := "https://play.example.com/battle?room=" + resp.Room.ID
	if resp.JoinURL != want {
		t.Errorf("expected join url %s, got %s", want, resp.JoinURL)
	}
	if _, err := env.store.GetRoom(context.Background(), resp.Room.ID); err != nil {
		t.Errorf("room not persisted: %v", err)
	}
	if strings.Contains(env.do(t, "GET", "/rooms/"+resp.Room.ID, "", nil).Body.String(), resp.HostToken) {
		t.Error("host token must never be exposed in room views")
	}
}

func TestHostEndpoints_RequireToken(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	path := "/rooms/" + created.Room.ID + "/start"

	expectStatus(t, env.do(t, "POST", path, "", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, "POST", path, "not-the-token", nil), http.StatusForbidden)

	w := env.do(t, "POST", path, created.HostToken, nil)
	expectStatus(t, w, http.StatusOK)
	v := decode[battle.RoomView](t, w)
	if v.Status != model.StatusPlaying || v.DayCursor != v.StartDay || v.StartDay < room.MinBuffer {
		t.Errorf("unexpected started room: %+v", v.Room)
	}
	if v.NAV <= 0 || v.DisplayDate == "" {
		t.Errorf("expected price and display date, got %v %q", v.NAV, v.DisplayDate)
	}

	expectStatus(t, env.do(t, "POST", path, created.HostToken, nil), http.StatusConflict)
}

func TestRoomRoutes_NotFoundAndInvalid(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, "GET", "/rooms/9999", "", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, "GET", "/rooms/12ab", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, "POST", "/rooms/9999/players", "", battle.JoinRequest{Nickname: "x"}), http.StatusNotFound)
}

func TestAdvance_AndEnd(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.startedRoom(t)
	start := decode[battle.RoomView](t, env.do(t, "GET", "/rooms/"+id, "", nil)).DayCursor

	w := env.do(t, "POST", "/rooms/"+id+"/advance", token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[battle.RoomView](t, w).DayCursor; got != start+1 {
		t.Errorf("expected day %d, got %d", start+1, got)
	}
	env.rec.Flush()
	stored, _ := env.store.GetRoom(context.Background(), id)
	if stored.DayCursor != start+1 {
		t.Errorf("store should follow the cursor, got %d", stored.DayCursor)
	}

	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/end", token, nil), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/advance", token, nil), http.StatusConflict)
	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/players", "", battle.JoinRequest{Nickname: "late"}), http.StatusConflict)
}

func TestAutoplay_Validation(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.startedRoom(t)
	path := "/rooms/" + id + "/autoplay"

	expectStatus(t, env.do(t, "POST", path, token, battle.AutoplayRequest{SpeedMS: 123}), http.StatusBadRequest)

	w := env.do(t, "POST", path, token, battle.AutoplayRequest{SpeedMS: 5000})
	expectStatus(t, w, http.StatusOK)
	if v := decode[battle.RoomView](t, w); v.AutoplayMS != 5000 {
		t.Errorf("expected autoplay 5000ms, got %d", v.AutoplayMS)
	}
	w = env.do(t, "POST", path, token, battle.AutoplayRequest{SpeedMS: 0})
	expectStatus(t, w, http.StatusOK)
	if v := decode[battle.RoomView](t, w); v.AutoplayMS != 0 {
		t.Errorf("expected autoplay stopped, got %d", v.AutoplayMS)
	}
}

func TestSetFund(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	path := "/rooms/" + created.Room.ID + "/fund"

	expectStatus(t, env.do(t, "PUT", path, created.HostToken, battle.FundRequest{FundID: "fund_Z"}), http.StatusBadRequest)

	w := env.do(t, "PUT", path, created.HostToken, battle.FundRequest{FundID: "fund_B"})
	expectStatus(t, w, http.StatusOK)
	if v := decode[battle.RoomView](t, w); v.FundID != "fund_B" {
		t.Errorf("expected fund_B, got %s", v.FundID)
	}

	// No provider is configured, so the start falls back to a synthetic series.
	w = env.do(t, "POST", "/rooms/"+created.Room.ID+"/start", created.HostToken, nil)
	expectStatus(t, w, http.StatusOK)
	v := decode[battle.RoomView](t, w)
	if v.Notice == "" || v.FundID != series.SyntheticFundID {
		t.Errorf("expected a fallback notice on a synthetic fund, got %q %s", v.Notice, v.FundID)
	}
	expectStatus(t, env.do(t, "PUT", path, created.HostToken, battle.FundRequest{FundID: "fund_A"}), http.StatusConflict)
}

func TestReset_ClearsPlayers(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.startedRoom(t)
	env.join(t, id, "Ann")

	w := env.do(t, "POST", "/rooms/"+id+"/reset", token, nil)
	expectStatus(t, w, http.StatusOK)
	v := decode[battle.RoomView](t, w)
	if v.Status != model.StatusWaiting || v.Players != 0 {
		t.Errorf("unexpected room after reset: %+v", v)
	}
	env.rec.Flush()
	players, _ := env.store.ListPlayers(context.Background(), id)
	if len(players) != 0 {
		t.Errorf("stored players should be cleared, got %d", len(players))
	}
}

func TestDeleteRoom_KeepsNothingLive(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	id := created.Room.ID

	expectStatus(t, env.do(t, "DELETE", "/rooms/"+id, created.HostToken, nil), http.StatusNoContent)
	if env.rooms.Len() != 0 {
		t.Error("room should be removed from the registry")
	}
	expectStatus(t, env.do(t, "GET", "/rooms/"+id, "", nil), http.StatusNotFound)
}

func TestDeleteRoom_TellsConnectedPlayers(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	id := created.Room.ID
	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/start", created.HostToken, nil), http.StatusOK)
	env.join(t, id, "Ann")

	events, cancel := env.broker.Subscribe(context.Background(), id)
	defer cancel()
	expectStatus(t, env.do(t, "DELETE", "/rooms/"+id, created.HostToken, nil), http.StatusNoContent)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != stream.RoomClosed {
				continue
			}
			env.rec.Flush()
			if _, err := env.store.GetRoom(context.Background(), id); err == nil {
				t.Error("stored room should be gone")
			}
			return
		case <-deadline:
			t.Fatal("no room_closed event after DELETE")
		}
	}
}

// --- Players and the gate ---

func TestJoinSnapshotLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.startedRoom(t)
	ann := env.join(t, id, "Ann")
	bob := env.join(t, id, "Bob")
	if ann.TotalAssets != 1_000_000 {
		t.Errorf("expected initial capital on join, got %v", ann.TotalAssets)
	}

	w := env.do(t, "PUT", "/rooms/"+id+"/players/"+bob.ID, "", model.Snapshot{ROI: 12.5, TotalAssets: 1_125_000, Units: 100})
	expectStatus(t, w, http.StatusOK)
	expectStatus(t, env.do(t, "PUT", "/rooms/"+id+"/players/"+bob.ID, "", model.Snapshot{PlayerID: ann.ID}), http.StatusBadRequest)
	expectStatus(t, env.do(t, "PUT", "/rooms/"+id+"/players/ghost", "", model.Snapshot{}), http.StatusNotFound)

	w = env.do(t, "GET", "/rooms/"+id+"/leaderboard", "", nil)
	expectStatus(t, w, http.StatusOK)
	lb := decode[battle.LeaderboardResponse](t, w)
	if lb.Board.Total != 2 || lb.Board.Top[0].ID != bob.ID {
		t.Errorf("unexpected board: %+v", lb.Board)
	}
	if lb.Exposure.Holders != 1 {
		t.Errorf("expected one holder, got %d", lb.Exposure.Holders)
	}

	env.rec.Flush()
	stored, _ := env.store.ListPlayers(context.Background(), id)
	if len(stored) != 2 {
		t.Errorf("expected 2 stored players, got %d", len(stored))
	}
}

func TestJoin_Validation(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	expectStatus(t, env.do(t, "POST", "/rooms/"+created.Room.ID+"/players", "", battle.JoinRequest{Nickname: "  "}), http.StatusBadRequest)

	w := env.do(t, "POST", "/rooms/"+created.Room.ID+"/players", "", battle.JoinRequest{Nickname: "Ann"})
	expectStatus(t, w, http.StatusCreated)
	first := decode[battle.JoinResponse](t, w)
	if first.InitialCapital != 1_000_000 {
		t.Errorf("expected initial capital 1000000, got %v", first.InitialCapital)
	}

	w = env.do(t, "POST", "/rooms/"+created.Room.ID+"/players", "", battle.JoinRequest{PlayerID: first.Player.ID})
	expectStatus(t, w, http.StatusCreated)
	if again := decode[battle.JoinResponse](t, w); again.Player.Nickname != "Ann" || again.Room.Players != 1 {
		t.Errorf("rejoin should keep the record: %+v", again)
	}
}

func TestGate_BlocksAdvance(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.startedRoom(t)
	ann := env.join(t, id, "Ann")

	w := env.do(t, "PUT", "/rooms/"+id+"/gate/"+ann.ID, "", nil)
	expectStatus(t, w, http.StatusOK)
	if gs := decode[room.GateStatus](t, w); !gs.Held || len(gs.Entries) != 1 || gs.Remaining <= 0 {
		t.Errorf("unexpected gate: %+v", gs)
	}
	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/advance", token, nil), http.StatusConflict)

	expectStatus(t, env.do(t, "DELETE", "/rooms/"+id+"/gate/"+ann.ID, "", nil), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/advance", token, nil), http.StatusOK)

	env.do(t, "PUT", "/rooms/"+id+"/gate/"+ann.ID, "", nil)
	env.rec.Flush()
	stored, _ := env.store.ListGate(context.Background(), id)
	if len(stored) != 1 {
		t.Errorf("expected persisted gate entry, got %d", len(stored))
	}

	expectStatus(t, env.do(t, "DELETE", "/rooms/"+id+"/gate", "", nil), http.StatusForbidden)
	w = env.do(t, "DELETE", "/rooms/"+id+"/gate", token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w)["cleared"]; got != float64(1) {
		t.Errorf("expected 1 cleared, got %v", got)
	}
	expectStatus(t, env.do(t, "POST", "/rooms/"+id+"/advance", token, nil), http.StatusOK)
}

func TestGate_UnknownPlayer(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.startedRoom(t)
	expectStatus(t, env.do(t, "PUT", "/rooms/"+id+"/gate/ghost", "", nil), http.StatusNotFound)
}

// --- Read views ---

func TestChart_ShowsOnlyPastWithShiftedDates(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.startedRoom(t)
	expectStatus(t, env.do(t, "PUT", "/rooms/"+id+"/indicators", token, model.Indicators{MA20: true}), http.StatusOK)

	w := env.do(t, "GET", "/rooms/"+id+"/chart", "", nil)
	expectStatus(t, w, http.StatusOK)
	chart := decode[battle.ChartResponse](t, w)
	last := chart.Rows[len(chart.Rows)-1]
	if last.Index != chart.Day {
		t.Fatalf("chart ends at %d, room day is %d", last.Index, chart.Day)
	}
	if last.MA20 == nil || last.MA60 != nil {
		t.Error("chart should carry only the enabled overlays")
	}

	w = env.do(t, "GET", "/rooms/"+id+"/series", "", nil)
	expectStatus(t, w, http.StatusOK)
	sr := decode[battle.SeriesResponse](t, w)
	if len(sr.Points) != sr.Day+1 {
		t.Fatalf("series should end at the current day: %d points, day %d", len(sr.Points), sr.Day)
	}
	v := decode[battle.RoomView](t, env.do(t, "GET", "/rooms/"+id, "", nil))
	if want := room.DisplayDate(sr.Points[sr.Day].Date, v.TimeOffset); last.Date != want {
		t.Errorf("expected shifted date %s, got %s", want, last.Date)
	}
}

func TestSeries_BeforeStart(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	expectStatus(t, env.do(t, "GET", "/rooms/"+created.Room.ID+"/series", "", nil), http.StatusConflict)
}

func TestGetRoom_FallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.startedRoom(t)
	env.join(t, id, "Ann")
	env.rooms.Delete(id)
	env.rec.Flush()

	w := env.do(t, "GET", "/rooms/"+id, "", nil)
	expectStatus(t, w, http.StatusOK)
	v := decode[battle.RoomView](t, w)
	if v.Live || v.Status != model.StatusPlaying || v.Players != 1 {
		t.Errorf("unexpected stored view: %+v", v)
	}
	expectStatus(t, env.do(t, "GET", "/rooms/"+id+"/leaderboard", "", nil), http.StatusOK)
	expectStatus(t, env.do(t, "GET", "/rooms/"+id+"/chart", "", nil), http.StatusNotFound)
}

func TestListFunds(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/funds", "", nil)
	expectStatus(t, w, http.StatusOK)
	funds := decode[[]series.Fund](t, w)
	if len(funds) != 4 || funds[0].ID != series.SyntheticFundID {
		t.Errorf("unexpected funds: %+v", funds)
	}
}

// --- Global results ---

func TestResults_GatedBoard(t *testing.T) {
	env := newTestEnv(t)
	submit := func(name string, roi float64) {
		t.Helper()
		expectStatus(t, env.do(t, "POST", "/results", "", battle.ResultRequest{
			DisplayName: name, FundID: "fund_A", ROI: roi, FinalAssets: 1_000_000 * (1 + roi/100), DurationMonths: 14,
		}), http.StatusCreated)
	}
	submit("ann", 10)
	submit("bob", 30)

	w := env.do(t, "GET", "/results?fund=fund_A", "", nil)
	expectStatus(t, w, http.StatusOK)
	if b := decode[leaderboard.GlobalBoard](t, w); b.Unlocked || b.Needed != 1 {
		t.Errorf("expected locked board, got %+v", b)
	}

	submit("cy", -5)
	submit("dee", 20)
	w = env.do(t, "GET", "/results?fund=fund_A", "", nil)
	b := decode[leaderboard.GlobalBoard](t, w)
	if !b.Unlocked || len(b.Entries) != 3 {
		t.Fatalf("expected unlocked top 3, got %+v", b)
	}
	if b.Entries[0].DisplayName != "bob" || b.Entries[2].DisplayName != "ann" {
		t.Errorf("unexpected order: %+v", b.Entries)
	}

	w = env.do(t, "GET", "/results?fund=fund_A&limit=2", "", nil)
	if b := decode[leaderboard.GlobalBoard](t, w); b.Count != 4 || len(b.Entries) != 2 {
		t.Errorf("count must cover every game, not the page: %+v", b)
	}

	w = env.do(t, "GET", "/results?fund=fund_B", "", nil)
	if b := decode[leaderboard.GlobalBoard](t, w); b.Count != 0 {
		t.Errorf("other funds should not mix in, got %d", b.Count)
	}
}

func TestResults_Validation(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, "POST", "/results", "", battle.ResultRequest{FundID: "fund_A"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, "POST", "/results", "", battle.ResultRequest{DisplayName: "x"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, "GET", "/results?limit=abc", "", nil), http.StatusBadRequest)
}
