package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	rooms   map[string]*model.Room
	players map[string][]model.Player
	gates   map[string][]model.GateEntry
	results []model.GameResult
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]*model.Room),
		players: make(map[string][]model.Player),
		gates:   make(map[string][]model.GateEntry),
	}
}

func (s *MemoryStore) CreateRoom(_ context.Context, r *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, r.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateRoom(_ context.Context, r *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, r.ID)
	}
	cp := *r
	s.rooms[r.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, id)
	delete(s.players, id)
	delete(s.gates, id)
	return nil
}

func (s *MemoryStore) UpsertPlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.players[p.RoomID]
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = *p
			return nil
		}
	}
	s.players[p.RoomID] = append(list, *p)
	return nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, roomID string) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.players[roomID])
	slices.SortStableFunc(out, func(a, b model.Player) int { return a.JoinedAt.Compare(b.JoinedAt) })
	if out == nil {
		out = []model.Player{}
	}
	return out, nil
}

func (s *MemoryStore) DeletePlayers(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.players, roomID)
	return nil
}

func (s *MemoryStore) ReplaceGate(_ context.Context, roomID string, entries []model.GateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) == 0 {
		delete(s.gates, roomID)
		return nil
	}
	s.gates[roomID] = slices.Clone(entries)
	return nil
}

func (s *MemoryStore) ListGate(_ context.Context, roomID string) ([]model.GateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.gates[roomID])
	slices.SortStableFunc(out, func(a, b model.GateEntry) int { return a.RaisedAt.Compare(b.RaisedAt) })
	if out == nil {
		out = []model.GateEntry{}
	}
	return out, nil
}

func (s *MemoryStore) InsertResult(_ context.Context, r *model.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, *r)
	return nil
}

func (s *MemoryStore) ListResults(_ context.Context, f leaderboard.ResultFilter) ([]model.GameResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f = f.Normalize()
	out := []model.GameResult{}
	for _, r := range s.results {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	leaderboard.SortResults(out)
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountResults(_ context.Context, f leaderboard.ResultFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f = f.Normalize()
	n := 0
	for _, r := range s.results {
		if f.Match(r) {
			n++
		}
	}
	return n, nil
}
