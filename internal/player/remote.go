package player

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/stream"
)

// APIError is a non-2xx response from the room service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Is lets callers match service-side conditions with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case room.ErrRoomNotFound:
		return e.Status == http.StatusNotFound
	case room.ErrNotHost:
		return e.Status == http.StatusForbidden
	}
	return false
}

// Remote talks to the room service over HTTP and its event stream over a
// WebSocket.
type Remote struct {
	base   string
	client *http.Client
	dialer *websocket.Dialer
	log    *slog.Logger
}

// NewRemote creates a Remote for the service at base, e.g.
// http://localhost:8080. client may be nil.
func NewRemote(base string, client *http.Client, logger *slog.Logger) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		base:   strings.TrimRight(base, "/"),
		client: client,
		dialer: websocket.DefaultDialer,
		log:    logger,
	}
}

func (r *Remote) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+"/api/v1"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(battle.HostTokenHeader, token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func roomPath(roomID, suffix string) string {
	return "/rooms/" + url.PathEscape(roomID) + suffix
}

// --- Player calls ---

func (r *Remote) Room(ctx context.Context, roomID string) (battle.RoomView, error) {
	var v battle.RoomView
	err := r.do(ctx, http.MethodGet, roomPath(roomID, ""), "", nil, &v)
	return v, err
}

func (r *Remote) Join(ctx context.Context, roomID string, req battle.JoinRequest) (battle.JoinResponse, error) {
	var resp battle.JoinResponse
	err := r.do(ctx, http.MethodPost, roomPath(roomID, "/players"), "", req, &resp)
	return resp, err
}

// WriteSnapshot implements publish.Sink.
func (r *Remote) WriteSnapshot(ctx context.Context, roomID string, s model.Snapshot) error {
	return r.do(ctx, http.MethodPut, roomPath(roomID, "/players/"+url.PathEscape(s.PlayerID)), "", s, nil)
}

func (r *Remote) RaiseGate(ctx context.Context, roomID, playerID string) error {
	return r.do(ctx, http.MethodPut, roomPath(roomID, "/gate/"+url.PathEscape(playerID)), "", nil, nil)
}

func (r *Remote) LowerGate(ctx context.Context, roomID, playerID string) error {
	return r.do(ctx, http.MethodDelete, roomPath(roomID, "/gate/"+url.PathEscape(playerID)), "", nil, nil)
}

func (r *Remote) Series(ctx context.Context, roomID string) (battle.SeriesResponse, error) {
	var s battle.SeriesResponse
	err := r.do(ctx, http.MethodGet, roomPath(roomID, "/series"), "", nil, &s)
	return s, err
}

func (r *Remote) Chart(ctx context.Context, roomID string) (battle.ChartResponse, error) {
	var c battle.ChartResponse
	err := r.do(ctx, http.MethodGet, roomPath(roomID, "/chart"), "", nil, &c)
	return c, err
}

func (r *Remote) Leaderboard(ctx context.Context, roomID string) (battle.LeaderboardResponse, error) {
	var lb battle.LeaderboardResponse
	err := r.do(ctx, http.MethodGet, roomPath(roomID, "/leaderboard"), "", nil, &lb)
	return lb, err
}

func (r *Remote) SubmitResult(ctx context.Context, req battle.ResultRequest) (model.GameResult, error) {
	var res model.GameResult
	err := r.do(ctx, http.MethodPost, "/results", "", req, &res)
	return res, err
}

func (r *Remote) Results(ctx context.Context, seasonID, fundID string) (leaderboard.GlobalBoard, error) {
	q := url.Values{}
	if seasonID != "" {
		q.Set("season", seasonID)
	}
	if fundID != "" {
		q.Set("fund", fundID)
	}
	var b leaderboard.GlobalBoard
	err := r.do(ctx, http.MethodGet, "/results?"+q.Encode(), "", nil, &b)
	return b, err
}

func (r *Remote) Funds(ctx context.Context) (series.Library, error) {
	var funds series.Library
	err := r.do(ctx, http.MethodGet, "/funds", "", nil, &funds)
	return funds, err
}

// --- Host calls ---

func (r *Remote) CreateRoom(ctx context.Context) (battle.CreateRoomResponse, error) {
	var resp battle.CreateRoomResponse
	err := r.do(ctx, http.MethodPost, "/rooms", "", nil, &resp)
	return resp, err
}

// Host runs a host-token action such as "start" or "advance" and returns
// the room afterwards. in may be nil.
func (r *Remote) Host(ctx context.Context, method, roomID, action, token string, in any) (battle.RoomView, error) {
	var v battle.RoomView
	err := r.do(ctx, method, roomPath(roomID, "/"+action), token, in, &v)
	return v, err
}

func (r *Remote) ForceClearGate(ctx context.Context, roomID, token string) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	err := r.do(ctx, http.MethodDelete, roomPath(roomID, "/gate"), token, nil, &out)
	return out.Cleared, err
}

// --- Event stream ---

// Subscribe implements stream.Subscriber over the service's WebSocket. The
// channel closes when the connection drops, ctx ends or cancel is called.
func (r *Remote) Subscribe(ctx context.Context, roomID string) (<-chan stream.Event, func()) {
	out := make(chan stream.Event, stream.DefaultBuffer)
	u, err := url.Parse(r.base + "/api/v1/ws")
	if err != nil {
		r.log.Error("invalid service url", "base", r.base, "err", err)
		close(out)
		return out, func() {}
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"room": {roomID}}.Encode()

	conn, _, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		r.log.Warn("event stream connect failed", "room", roomID, "err", err)
		close(out)
		return out, func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		case <-done:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			var e stream.Event
			if err := conn.ReadJSON(&e); err != nil {
				r.log.Debug("event stream closed", "room", roomID, "err", err)
				return
			}
			select {
			case out <- e:
			default:
				r.log.Warn("dropping event for slow client", "room", roomID, "type", e.Type)
			}
		}
	}()
	return out, cancel
}
