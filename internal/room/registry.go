package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fundbattle/battle-engine/internal/joinlink"
)

var ErrNoFreeRoomID = errors.New("room: no free room id")

const idAttempts = 32

// Registry holds the rooms served by this host process.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Coordinator
	cfg   Config
	rng   *rand.Rand
}

// NewRegistry creates an empty registry whose rooms share cfg. Each room
// gets its own random source seeded from the registry's.
func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		rooms: make(map[string]*Coordinator),
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
	}
}

// Create opens a new room under a random 4-digit id not already used by
// this registry.
func (r *Registry) Create() (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < idAttempts; i++ {
		id := joinlink.NewRoomID(r.rng)
		if _, taken := r.rooms[id]; taken {
			continue
		}
		cfg := r.cfg
		cfg.Rand = rand.New(rand.NewPCG(r.rng.Uint64(), r.rng.Uint64()))
		c := New(id, cfg)
		r.rooms[id] = c
		return c, nil
	}
	return nil, ErrNoFreeRoomID
}

// Get returns the room with id.
func (r *Registry) Get(id string) (*Coordinator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return c, nil
}

// Delete stops and removes a room.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	c, ok := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close stops every room's clock.
func (r *Registry) Close(context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms {
		c.Close()
	}
}
