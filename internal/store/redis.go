package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRoom(ctx context.Context, r *model.Room) error {
	if err := s.primary.CreateRoom(ctx, r); err != nil {
		return err
	}
	s.cacheJSON(ctx, roomKey(r.ID), r)
	return nil
}

func (s *CachedStore) UpdateRoom(ctx context.Context, r *model.Room) error {
	if err := s.primary.UpdateRoom(ctx, r); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, roomKey(r.ID))
	return nil
}

func (s *CachedStore) DeleteRoom(ctx context.Context, id string) error {
	if err := s.primary.DeleteRoom(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, roomKey(id), playersKey(id))
	return nil
}

func (s *CachedStore) UpsertPlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.UpsertPlayer(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, playersKey(p.RoomID))
	return nil
}

func (s *CachedStore) DeletePlayers(ctx context.Context, roomID string) error {
	if err := s.primary.DeletePlayers(ctx, roomID); err != nil {
		return err
	}
	s.rdb.Del(ctx, playersKey(roomID))
	return nil
}

func (s *CachedStore) InsertResult(ctx context.Context, r *model.GameResult) error {
	if err := s.primary.InsertResult(ctx, r); err != nil {
		return err
	}
	// Result boards are keyed by filter; drop them all.
	iter := s.rdb.Scan(ctx, 0, "results:*", 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var r model.Room
	if s.readJSON(ctx, roomKey(id), &r) {
		return &r, nil
	}

	room, err := s.primary.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, roomKey(id), room)
	return room, nil
}

func (s *CachedStore) ListPlayers(ctx context.Context, roomID string) ([]model.Player, error) {
	var players []model.Player
	if s.readJSON(ctx, playersKey(roomID), &players) {
		return players, nil
	}

	players, err := s.primary.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, playersKey(roomID), players)
	return players, nil
}

func (s *CachedStore) ListResults(ctx context.Context, f leaderboard.ResultFilter) ([]model.GameResult, error) {
	f = f.Normalize()
	key := resultsKey(f)
	var results []model.GameResult
	if s.readJSON(ctx, key, &results) {
		return results, nil
	}

	results, err := s.primary.ListResults(ctx, f)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, key, results)
	return results, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CountResults(ctx context.Context, f leaderboard.ResultFilter) (int, error) {
	return s.primary.CountResults(ctx, f)
}

func (s *CachedStore) ReplaceGate(ctx context.Context, roomID string, entries []model.GateEntry) error {
	return s.primary.ReplaceGate(ctx, roomID, entries)
}

func (s *CachedStore) ListGate(ctx context.Context, roomID string) ([]model.GateEntry, error) {
	return s.primary.ListGate(ctx, roomID)
}

// --- Cache helpers ---

// cachedRoom keeps the host token, which model.Room hides from JSON.
type cachedRoom struct {
	model.Room
	Token string `json:"host_token"`
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if r, ok := v.(*model.Room); ok {
		v = cachedRoom{Room: *r, Token: r.HostToken}
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) readJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if r, ok := dst.(*model.Room); ok {
		var cr cachedRoom
		if json.Unmarshal(data, &cr) != nil {
			return false
		}
		*r = cr.Room
		r.HostToken = cr.Token
		return true
	}
	return json.Unmarshal(data, dst) == nil
}

func roomKey(id string) string        { return fmt.Sprintf("room:%s", id) }
func playersKey(roomID string) string { return fmt.Sprintf("room:%s:players", roomID) }
func resultsKey(f leaderboard.ResultFilter) string {
	return fmt.Sprintf("results:%s:%s:%d", f.SeasonID, f.FundID, f.Limit)
}
