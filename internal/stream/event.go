// Package stream carries typed room events from the host to every player
// and spectator. The same Publisher/Subscriber pair is served by an
// in-process broker, Redis pub/sub, or a WebSocket hub fed by either.
package stream

import (
	"context"
	"time"

	"github.com/fundbattle/battle-engine/internal/model"
)

// EventType names a room change.
type EventType string

const (
	DayAdvanced   EventType = "day_advanced"
	GateChanged   EventType = "gate_changed"
	PlayerUpdated EventType = "player_updated"
	PlayerRemoved EventType = "player_removed"
	StatusChanged EventType = "status_changed"
	ConfigChanged EventType = "config_changed"

	// RoomClosed is the last event of a room: the host deleted it.
	RoomClosed EventType = "room_closed"
)

// Event is one change to a room. Only the fields relevant to Type are set;
// Day, Status and Room are always the room's state after the change.
type Event struct {
	Type       EventType         `json:"type"`
	RoomID     string            `json:"room_id"`
	Day        int               `json:"day"`
	Status     model.RoomStatus  `json:"status"`
	Room       *model.Room       `json:"room,omitempty"`
	NAV        float64           `json:"nav,omitempty"` // price at Day; 0 before start
	FundID     string            `json:"fund_id,omitempty"`
	Indicators *model.Indicators `json:"indicators,omitempty"`
	Gate       []model.GateEntry `json:"gate,omitempty"`
	Player     *model.Player     `json:"player,omitempty"`
	Source     string            `json:"source,omitempty"`      // day_advanced: manual or autoplay
	AutoplayMS int               `json:"autoplay_ms,omitempty"` // config_changed: 0 when stopped
	Notice     string            `json:"notice,omitempty"`
	At         time.Time         `json:"at"`
}

// Publisher sends events. Delivery is fire-and-forget; a slow or absent
// subscriber never blocks the publisher.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber delivers a room's events until cancel is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID string) (<-chan Event, func())
}

// Stream is both ends.
type Stream interface {
	Publisher
	Subscriber
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }
