package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/store"
)

func TestMemoryStore_RoomLifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	room := &model.Room{ID: "1234", Status: model.StatusWaiting, HostToken: "secret"}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRoom(ctx, room); !errors.Is(err, store.ErrRoomExists) {
		t.Errorf("expected ErrRoomExists, got %v", err)
	}

	room.Status = model.StatusPlaying
	room.DayCursor = 512
	if err := s.UpdateRoom(ctx, room); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetRoom(ctx, "1234")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPlaying || got.DayCursor != 512 || got.HostToken != "secret" {
		t.Errorf("unexpected room: %+v", got)
	}

	got.DayCursor = 9
	again, _ := s.GetRoom(ctx, "1234")
	if again.DayCursor != 512 {
		t.Error("GetRoom must return a copy")
	}

	if err := s.UpdateRoom(ctx, &model.Room{ID: "9999"}); !errors.Is(err, store.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	s.DeleteRoom(ctx, "1234")
	if _, err := s.GetRoom(ctx, "1234"); !errors.Is(err, store.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_Players(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.UpsertPlayer(ctx, &model.Player{ID: "b", RoomID: "1234", JoinedAt: base.Add(time.Minute)})
	s.UpsertPlayer(ctx, &model.Player{ID: "a", RoomID: "1234", JoinedAt: base})
	s.UpsertPlayer(ctx, &model.Player{ID: "b", RoomID: "1234", ROI: 4.5, JoinedAt: base.Add(time.Minute)})

	ps, _ := s.ListPlayers(ctx, "1234")
	if len(ps) != 2 || ps[0].ID != "a" || ps[1].ROI != 4.5 {
		t.Errorf("unexpected players: %+v", ps)
	}

	s.DeletePlayers(ctx, "1234")
	if ps, _ := s.ListPlayers(ctx, "1234"); len(ps) != 0 {
		t.Errorf("expected no players, got %d", len(ps))
	}
}

func TestMemoryStore_Gate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Now()

	s.ReplaceGate(ctx, "1234", []model.GateEntry{
		{PlayerID: "late", RaisedAt: base.Add(time.Second)},
		{PlayerID: "early", RaisedAt: base},
	})
	entries, _ := s.ListGate(ctx, "1234")
	if len(entries) != 2 || entries[0].PlayerID != "early" {
		t.Errorf("unexpected gate: %+v", entries)
	}
	s.ReplaceGate(ctx, "1234", nil)
	if entries, _ := s.ListGate(ctx, "1234"); len(entries) != 0 {
		t.Errorf("expected empty gate, got %+v", entries)
	}
}

func TestMemoryStore_Results(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	for i, r := range []model.GameResult{
		{ID: "1", ROI: 12, SeasonID: model.PracticeSeason, FundID: "fund_A"},
		{ID: "2", ROI: 40, SeasonID: model.PracticeSeason, FundID: "fund_B"},
		{ID: "3", ROI: 25, SeasonID: model.PracticeSeason, FundID: "fund_A"},
		{ID: "4", ROI: 90, SeasonID: "2024-s1", FundID: "fund_A"},
	} {
		r.CreatedAt = time.Unix(int64(i), 0)
		s.InsertResult(ctx, &r)
	}

	got, _ := s.ListResults(ctx, leaderboard.ResultFilter{FundID: "fund_A"})
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "1" {
		t.Errorf("unexpected practice results: %+v", got)
	}
	got, _ = s.ListResults(ctx, leaderboard.ResultFilter{SeasonID: "2024-s1"})
	if len(got) != 1 || got[0].ID != "4" {
		t.Errorf("unexpected season results: %+v", got)
	}
	got, _ = s.ListResults(ctx, leaderboard.ResultFilter{Limit: 1})
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("expected only the best practice result, got %+v", got)
	}
	if n, _ := s.CountResults(ctx, leaderboard.ResultFilter{Limit: 1}); n != 3 {
		t.Errorf("count ignores the limit, expected 3 practice results, got %d", n)
	}
	if n, _ := s.CountResults(ctx, leaderboard.ResultFilter{FundID: "fund_B"}); n != 1 {
		t.Errorf("expected 1 fund_B result, got %d", n)
	}
}
