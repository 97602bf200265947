// Package session persists a player's ledger between visits so a reload or
// reconnect resumes the same game. A session is keyed by room id and is
// only ever restored into that same room.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fundbattle/battle-engine/internal/ledger"
)

var ErrSessionNotFound = errors.New("session: not found")

// State is everything a player client needs to resume.
type State struct {
	RoomID   string       `json:"room_id"`
	PlayerID string       `json:"player_id"`
	Nickname string       `json:"nickname"`
	Contact  string       `json:"contact,omitempty"`
	Ledger   ledger.State `json:"ledger"`
	SavedAt  time.Time    `json:"saved_at"`
}

// Store saves and restores session state. Clear removes every session the
// store holds for this client.
type Store interface {
	Save(ctx context.Context, key string, s State) error
	Load(ctx context.Context, key string) (State, error)
	Clear(ctx context.Context) error
}

// Resume loads the session for roomID. A client opening a different room
// than the one it last played has all prior state cleared and gets
// ErrSessionNotFound, sending it back to login.
func Resume(ctx context.Context, st Store, roomID string) (State, error) {
	s, err := st.Load(ctx, roomID)
	if err == nil && s.RoomID == roomID {
		return s, nil
	}
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return State{}, err
	}
	if cerr := st.Clear(ctx); cerr != nil {
		return State{}, cerr
	}
	return State{}, ErrSessionNotFound
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (m *MemoryStore) Save(_ context.Context, key string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = s
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return State{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.sessions)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
