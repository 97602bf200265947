// Package store defines the persistence interface for the battle engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-process play).
//
// The live room state is owned by the host's room coordinator; the store
// holds the last published copy of it so that spectators, restarts and
// other server instances can read it, plus the finished-game results behind
// the global leaderboard.
package store

import (
	"context"
	"errors"

	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
)

var (
	ErrRoomNotFound = errors.New("store: room not found")
	ErrRoomExists   = errors.New("store: room already exists")
)

// Store is the persistence interface.
type Store interface {
	// --- Rooms ---

	// CreateRoom persists a new room. Returns ErrRoomExists if the id is taken.
	CreateRoom(ctx context.Context, room *model.Room) error

	// GetRoom retrieves a room by its 4-digit id.
	GetRoom(ctx context.Context, id string) (*model.Room, error)

	// UpdateRoom overwrites the mutable room fields.
	UpdateRoom(ctx context.Context, room *model.Room) error

	// DeleteRoom removes a room with its players and gate entries.
	DeleteRoom(ctx context.Context, id string) error

	// --- Players ---

	// UpsertPlayer inserts or replaces one player's record.
	UpsertPlayer(ctx context.Context, p *model.Player) error

	// ListPlayers returns a room's players in join order.
	ListPlayers(ctx context.Context, roomID string) ([]model.Player, error)

	// DeletePlayers removes every player of a room.
	DeletePlayers(ctx context.Context, roomID string) error

	// --- Trade gate ---

	// ReplaceGate sets the room's gate entries to exactly entries.
	ReplaceGate(ctx context.Context, roomID string, entries []model.GateEntry) error

	// ListGate returns the gate entries ordered by raise time.
	ListGate(ctx context.Context, roomID string) ([]model.GateEntry, error)

	// --- Global leaderboard ---

	// InsertResult appends an immutable finished-game record.
	InsertResult(ctx context.Context, r *model.GameResult) error

	// ListResults returns the results matching f, best ROI first, at most
	// f.Limit rows.
	ListResults(ctx context.Context, f leaderboard.ResultFilter) ([]model.GameResult, error)

	// CountResults returns how many results match f, ignoring f.Limit.
	CountResults(ctx context.Context, f leaderboard.ResultFilter) (int, error)
}
