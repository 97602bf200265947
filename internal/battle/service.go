// Package battle provides the HTTP handlers of the room service: host
// controls, player joins and snapshots, the trade gate, read-only room views
// and the global results board.
//
// Only host-token requests move the day cursor. Player endpoints write the
// caller's own record and nothing else.
package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fundbattle/battle-engine/internal/indicator"
	"github.com/fundbattle/battle-engine/internal/joinlink"
	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/ledger"
	"github.com/fundbattle/battle-engine/internal/metrics"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
	"github.com/fundbattle/battle-engine/internal/store"
)

// HostTokenHeader carries the credential returned when a room is created.
const HostTokenHeader = "X-Host-Token"

type contextKey string

const roomContextKey contextKey = "room"

// Options configures a Service.
type Options struct {
	PublicURL       string // origin of join links; empty disables them
	MinParticipants int
	Library         series.Library
	Logger          *slog.Logger
}

// Service serves the room API. Rooms live in the registry; the store holds
// their last published state and the finished-game results.
type Service struct {
	rooms *room.Registry
	store store.Store
	funds *series.Fallback
	opts  Options
	log   *slog.Logger
}

// NewService creates the API service.
func NewService(rooms *room.Registry, st store.Store, funds *series.Fallback, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinParticipants <= 0 {
		opts.MinParticipants = leaderboard.DefaultMinParticipants
	}
	if opts.Library == nil {
		opts.Library = series.DefaultLibrary()
	}
	return &Service{rooms: rooms, store: st, funds: funds, opts: opts, log: opts.Logger}
}

// Routes mounts the API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/funds", s.ListFunds)
	r.Post("/rooms", s.CreateRoom)
	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Use(s.roomContext)

		r.Get("/", s.GetRoom)
		r.Get("/leaderboard", s.GetLeaderboard)
		r.Get("/gate", s.GetGate)
		r.Get("/chart", s.GetChart)
		r.Get("/series", s.GetSeries)

		r.Post("/players", s.Join)
		r.Put("/players/{playerID}", s.UpdatePlayer)
		r.Put("/gate/{playerID}", s.RaiseGate)
		r.Delete("/gate/{playerID}", s.LowerGate)

		r.Group(func(r chi.Router) {
			r.Use(s.hostOnly)
			r.Delete("/", s.DeleteRoom)
			r.Post("/start", s.Start)
			r.Post("/advance", s.Advance)
			r.Post("/autoplay", s.Autoplay)
			r.Post("/end", s.End)
			r.Post("/reset", s.Reset)
			r.Put("/indicators", s.SetIndicators)
			r.Put("/fund", s.SetFund)
			r.Delete("/gate", s.ForceClearGate)
		})
	})
	r.Post("/results", s.SubmitResult)
	r.Get("/results", s.ListResults)
}

// --- Middleware ---

// roomContext resolves {roomID}. Rooms not hosted here are still readable
// from the store, so the coordinator in the context may be nil for GETs.
func (s *Service) roomContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "roomID")
		if !joinlink.ValidRoomID(id) {
			writeDomainError(w, fmt.Errorf("%w: %q", joinlink.ErrInvalidRoomID, id))
			return
		}
		c, err := s.rooms.Get(id)
		if err != nil && r.Method != http.MethodGet {
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), roomContextKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) hostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := live(w, r)
		if !ok {
			return
		}
		if err := c.Authorize(r.Header.Get(HostTokenHeader)); err != nil {
			writeDomainError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func coordinatorFrom(ctx context.Context) *room.Coordinator {
	c, _ := ctx.Value(roomContextKey).(*room.Coordinator)
	return c
}

// live returns the hosted coordinator or writes 404.
func live(w http.ResponseWriter, r *http.Request) (*room.Coordinator, bool) {
	c := coordinatorFrom(r.Context())
	if c == nil {
		writeDomainError(w, fmt.Errorf("%w: %s", room.ErrRoomNotFound, chi.URLParam(r, "roomID")))
		return nil, false
	}
	return c, true
}

// --- Request/Response types ---

// RoomView is the room as shown to players and spectators.
type RoomView struct {
	model.Room
	Live        bool            `json:"live"`
	Notice      string          `json:"notice,omitempty"`
	AutoplayMS  int             `json:"autoplay_ms"`
	NAV         float64         `json:"nav"`
	DisplayDate string          `json:"display_date,omitempty"`
	Gate        room.GateStatus `json:"gate"`
	Players     int             `json:"players"`
}

// CreateRoomResponse is returned once, to the host.
type CreateRoomResponse struct {
	Room      RoomView `json:"room"`
	HostToken string   `json:"host_token"`
	JoinURL   string   `json:"join_url,omitempty"`
}

// JoinRequest is the JSON body for POST /rooms/{id}/players. A known
// player_id rejoins.
type JoinRequest struct {
	PlayerID string `json:"player_id,omitempty"`
	Nickname string `json:"nickname"`
	Contact  string `json:"contact,omitempty"`
}

// JoinResponse carries the player record and the room's starting capital.
type JoinResponse struct {
	Player         model.Player `json:"player"`
	InitialCapital float64      `json:"initial_capital"`
	Room           RoomView     `json:"room"`
}

// AutoplayRequest selects a clock speed; 0 stops the clock.
type AutoplayRequest struct {
	SpeedMS int `json:"speed_ms"`
}

type FundRequest struct {
	FundID string `json:"fund_id"`
}

// ResultRequest is the JSON body for POST /results.
type ResultRequest struct {
	UID            string  `json:"uid"`
	DisplayName    string  `json:"display_name"`
	FundID         string  `json:"fund_id"`
	ROI            float64 `json:"roi"`
	FinalAssets    float64 `json:"final_assets"`
	DurationMonths int     `json:"duration_months"`
	SeasonID       string  `json:"season_id,omitempty"`
}

// LeaderboardResponse is the room ranking plus aggregate exposure.
type LeaderboardResponse struct {
	Board    leaderboard.Board    `json:"board"`
	Exposure leaderboard.Exposure `json:"exposure"`
}

// ChartResponse is the overlay window up to the current day, with dates
// shifted by the room's time offset.
type ChartResponse struct {
	Day  int             `json:"day"`
	Rows []indicator.Row `json:"rows"`
}

// SeriesResponse is the played series up to the current day.
type SeriesResponse struct {
	FundID    string             `json:"fund_id"`
	Name      string             `json:"name"`
	Synthetic bool               `json:"synthetic"`
	StartDay  int                `json:"start_day"`
	Day       int                `json:"day"`
	Points    []model.PricePoint `json:"points"`
}

func (s *Service) view(c *room.Coordinator) RoomView {
	rm := c.Room()
	gs := c.Gate()
	v := RoomView{
		Room:       rm,
		Live:       true,
		Notice:     c.Notice(),
		AutoplayMS: int(c.Autoplaying() / time.Millisecond),
		NAV:        c.NAV(),
		Gate:       gs,
		Players:    len(c.Players()),
	}
	if sr, ok := c.Series(); ok {
		if p, ok := sr.At(rm.DayCursor); ok {
			v.DisplayDate = room.DisplayDate(p.Date, rm.TimeOffset)
		}
	}
	return v
}

// --- Host handlers ---

// CreateRoom handles POST /api/v1/rooms
func (s *Service) CreateRoom(w http.ResponseWriter, r *http.Request) {
	c, err := s.rooms.Create()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rm := c.Room()
	if err := s.store.CreateRoom(r.Context(), &rm); err != nil {
		s.rooms.Delete(rm.ID)
		writeDomainError(w, err)
		return
	}
	metrics.RoomsActive.Inc()

	resp := CreateRoomResponse{Room: s.view(c), HostToken: rm.HostToken}
	if s.opts.PublicURL != "" {
		if link, err := joinlink.URL(s.opts.PublicURL, rm.ID); err == nil {
			resp.JoinURL = link
		} else {
			s.log.Warn("build join link failed", "room", rm.ID, "err", err)
		}
	}
	s.log.Info("room created", "room", rm.ID)
	writeJSON(w, http.StatusCreated, resp)
}

// DeleteRoom handles DELETE /api/v1/rooms/{roomID}
func (s *Service) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	c := coordinatorFrom(r.Context())
	c.Dissolve(r.Context())
	s.rooms.Delete(c.ID())
	if err := s.store.DeleteRoom(r.Context(), c.ID()); err != nil {
		s.log.Warn("delete stored room failed", "room", c.ID(), "err", err)
	}
	metrics.RoomsActive.Dec()
	s.log.Info("room closed", "room", c.ID())
	w.WriteHeader(http.StatusNoContent)
}

// Start handles POST /api/v1/rooms/{roomID}/start. The room's fund is
// loaded; a synthetic series replaces it when the source fails.
func (s *Service) Start(w http.ResponseWriter, r *http.Request) {
	c := coordinatorFrom(r.Context())
	if st := c.Room().Status; st != model.StatusWaiting {
		writeDomainError(w, fmt.Errorf("%w: start from %s", room.ErrInvalidTransition, st))
		return
	}
	loaded := s.funds.Load(r.Context(), c.Room().FundID)
	if err := c.Start(r.Context(), loaded.Series, loaded.Notice); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

// Advance handles POST /api/v1/rooms/{roomID}/advance. Reaching the end of
// the series is reported through the ended status, not as an error.
func (s *Service) Advance(w http.ResponseWriter, r *http.Request) {
	c := coordinatorFrom(r.Context())
	if _, err := c.Advance(r.Context(), room.SourceManual); err != nil && !errors.Is(err, room.ErrSeriesExhausted) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

// Autoplay handles POST /api/v1/rooms/{roomID}/autoplay
func (s *Service) Autoplay(w http.ResponseWriter, r *http.Request) {
	var req AutoplayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := coordinatorFrom(r.Context())
	if err := c.Autoplay(r.Context(), time.Duration(req.SpeedMS)*time.Millisecond); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

// End handles POST /api/v1/rooms/{roomID}/end
func (s *Service) End(w http.ResponseWriter, r *http.Request) {
	c := coordinatorFrom(r.Context())
	if err := c.End(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

// Reset handles POST /api/v1/rooms/{roomID}/reset
func (s *Service) Reset(w http.ResponseWriter, r *http.Request) {
	c := coordinatorFrom(r.Context())
	c.Reset(r.Context())
	writeJSON(w, http.StatusOK, s.view(c))
}

// SetIndicators handles PUT /api/v1/rooms/{roomID}/indicators
func (s *Service) SetIndicators(w http.ResponseWriter, r *http.Request) {
	var ind model.Indicators
	if err := decodeJSON(r, &ind); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := coordinatorFrom(r.Context())
	c.SetIndicators(r.Context(), ind)
	writeJSON(w, http.StatusOK, s.view(c))
}

// SetFund handles PUT /api/v1/rooms/{roomID}/fund
func (s *Service) SetFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.opts.Library.Find(req.FundID); !ok && req.FundID != series.SyntheticFundID {
		writeDomainError(w, fmt.Errorf("%w: %q", series.ErrUnknownFund, req.FundID))
		return
	}
	c := coordinatorFrom(r.Context())
	if err := c.SetFund(r.Context(), req.FundID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

// ForceClearGate handles DELETE /api/v1/rooms/{roomID}/gate
func (s *Service) ForceClearGate(w http.ResponseWriter, r *http.Request) {
	c := coordinatorFrom(r.Context())
	n := c.ForceClearGate(r.Context())
	if n > 0 {
		metrics.GateForceClears.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n, "gate": c.Gate()})
}

// --- Player handlers ---

// Join handles POST /api/v1/rooms/{roomID}/players
func (s *Service) Join(w http.ResponseWriter, r *http.Request) {
	c, ok := live(w, r)
	if !ok {
		return
	}
	var req JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	if req.Nickname == "" && req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "nickname is required")
		return
	}
	p, err := c.Join(r.Context(), model.Player{ID: req.PlayerID, Nickname: req.Nickname, Contact: strings.TrimSpace(req.Contact)})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, JoinResponse{Player: p, InitialCapital: c.InitialCapital(), Room: s.view(c)})
}

// UpdatePlayer handles PUT /api/v1/rooms/{roomID}/players/{playerID}. The
// body is the player's own derived snapshot.
func (s *Service) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	c, ok := live(w, r)
	if !ok {
		return
	}
	var snap model.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pid := chi.URLParam(r, "playerID")
	if snap.PlayerID != "" && snap.PlayerID != pid {
		writeError(w, http.StatusBadRequest, "player_id does not match the path")
		return
	}
	snap.PlayerID = pid
	p, err := c.UpdatePlayer(r.Context(), snap)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RaiseGate handles PUT /api/v1/rooms/{roomID}/gate/{playerID}
func (s *Service) RaiseGate(w http.ResponseWriter, r *http.Request) {
	c, ok := live(w, r)
	if !ok {
		return
	}
	if err := c.RaiseGate(r.Context(), chi.URLParam(r, "playerID")); err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.GateRaises.Inc()
	writeJSON(w, http.StatusOK, c.Gate())
}

// LowerGate handles DELETE /api/v1/rooms/{roomID}/gate/{playerID}
func (s *Service) LowerGate(w http.ResponseWriter, r *http.Request) {
	c, ok := live(w, r)
	if !ok {
		return
	}
	c.LowerGate(r.Context(), chi.URLParam(r, "playerID"))
	writeJSON(w, http.StatusOK, c.Gate())
}

// --- Read handlers ---

// GetRoom handles GET /api/v1/rooms/{roomID}
func (s *Service) GetRoom(w http.ResponseWriter, r *http.Request) {
	if c := coordinatorFrom(r.Context()); c != nil {
		writeJSON(w, http.StatusOK, s.view(c))
		return
	}
	id := chi.URLParam(r, "roomID")
	rm, err := s.store.GetRoom(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	players, err := s.store.ListPlayers(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load players")
		return
	}
	entries, err := s.store.ListGate(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load gate")
		return
	}
	writeJSON(w, http.StatusOK, RoomView{
		Room:    *rm,
		Gate:    room.GateStatus{Entries: entries, Held: len(entries) > 0},
		Players: len(players),
	})
}

// GetLeaderboard handles GET /api/v1/rooms/{roomID}/leaderboard
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	var (
		players []model.Player
		nav     float64
	)
	if c := coordinatorFrom(r.Context()); c != nil {
		players, nav = c.Players(), c.NAV()
	} else {
		id := chi.URLParam(r, "roomID")
		if _, err := s.store.GetRoom(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		var err error
		if players, err = s.store.ListPlayers(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load players")
			return
		}
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{
		Board:    leaderboard.Project(players, leaderboard.DefaultOptions()),
		Exposure: leaderboard.RoomExposure(players, nav),
	})
}

// GetGate handles GET /api/v1/rooms/{roomID}/gate
func (s *Service) GetGate(w http.ResponseWriter, r *http.Request) {
	if c := coordinatorFrom(r.Context()); c != nil {
		writeJSON(w, http.StatusOK, c.Gate())
		return
	}
	entries, err := s.store.ListGate(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load gate")
		return
	}
	writeJSON(w, http.StatusOK, room.GateStatus{Entries: entries, Held: len(entries) > 0})
}

// GetChart handles GET /api/v1/rooms/{roomID}/chart
func (s *Service) GetChart(w http.ResponseWriter, r *http.Request) {
	c, ok := live(w, r)
	if !ok {
		return
	}
	rm := c.Room()
	rows := c.Chart()
	for i := range rows {
		rows[i].Date = room.DisplayDate(rows[i].Date, rm.TimeOffset)
	}
	writeJSON(w, http.StatusOK, ChartResponse{Day: rm.DayCursor, Rows: rows})
}

// GetSeries handles GET /api/v1/rooms/{roomID}/series. Points after the
// current day are never returned.
func (s *Service) GetSeries(w http.ResponseWriter, r *http.Request) {
	c, ok := live(w, r)
	if !ok {
		return
	}
	sr, started := c.Series()
	if !started {
		writeDomainError(w, fmt.Errorf("%w: room has not started", room.ErrInvalidTransition))
		return
	}
	rm := c.Room()
	writeJSON(w, http.StatusOK, SeriesResponse{
		FundID:    sr.FundID,
		Name:      sr.Name,
		Synthetic: sr.Synthetic,
		StartDay:  rm.StartDay,
		Day:       rm.DayCursor,
		Points:    sr.Window(0, rm.DayCursor),
	})
}

// ListFunds handles GET /api/v1/funds
func (s *Service) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds := append(series.Library{{ID: series.SyntheticFundID, Name: "Random simulated fund"}}, s.opts.Library...)
	writeJSON(w, http.StatusOK, funds)
}

// --- Global results ---

// SubmitResult handles POST /api/v1/results
func (s *Service) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var req ResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.FundID == "" {
		writeError(w, http.StatusBadRequest, "fund_id is required")
		return
	}
	if req.SeasonID == "" {
		req.SeasonID = model.PracticeSeason
	}
	res := &model.GameResult{
		ID:             uuid.NewString(),
		UID:            req.UID,
		DisplayName:    req.DisplayName,
		FundID:         req.FundID,
		ROI:            req.ROI,
		FinalAssets:    req.FinalAssets,
		DurationMonths: req.DurationMonths,
		SeasonID:       req.SeasonID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertResult(r.Context(), res); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record result")
		return
	}
	s.log.Info("result recorded", "id", res.ID, "fund", res.FundID, "season", res.SeasonID, "roi", res.ROI)
	writeJSON(w, http.StatusCreated, res)
}

// ListResults handles GET /api/v1/results?season=&fund=&limit=
func (s *Service) ListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := leaderboard.ResultFilter{SeasonID: q.Get("season"), FundID: q.Get("fund")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		f.Limit = n
	}
	f = f.Normalize()
	results, err := s.store.ListResults(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	total, err := s.store.CountResults(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count results")
		return
	}
	writeJSON(w, http.StatusOK, leaderboard.Global(results, total, s.opts.MinParticipants, leaderboard.DefaultKeep))
}

// --- Helpers ---

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, joinlink.ErrInvalidRoomID),
		errors.Is(err, room.ErrInvalidSpeed),
		errors.Is(err, series.ErrUnknownFund),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientUnits):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrNotHost):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, store.ErrRoomNotFound),
		errors.Is(err, room.ErrUnknownPlayer):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, room.ErrInvalidTransition),
		errors.Is(err, room.ErrGateHeld),
		errors.Is(err, room.ErrJoinClosed),
		errors.Is(err, room.ErrSeriesTooShort),
		errors.Is(err, store.ErrRoomExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, room.ErrNoFreeRoomID):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
