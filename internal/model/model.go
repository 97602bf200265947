// Package model defines the core domain types shared across the battle engine.
// Ledger internals never leave the player; rooms and leaderboards only see
// the derived Snapshot.
package model

import (
	"time"
)

// PricePoint is one day of a fund's price timeline. Index is the universal
// day cursor for a session.
type PricePoint struct {
	Index int     `json:"index"`
	Date  string  `json:"date"`
	NAV   float64 `json:"nav"`
}

// RoomStatus is the lifecycle state of a Room.
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusPlaying RoomStatus = "playing"
	StatusEnded   RoomStatus = "ended"
)

// Indicators selects which chart overlays the host has switched on for
// every client in the room.
type Indicators struct {
	MA20  bool `json:"ma20"`
	MA60  bool `json:"ma60"`
	River bool `json:"river"`
}

// Room is the host-owned state of one game session.
type Room struct {
	ID         string     `json:"id" db:"id"`
	Status     RoomStatus `json:"status" db:"status"`
	DayCursor  int        `json:"day_cursor" db:"day_cursor"`
	StartDay   int        `json:"start_day" db:"start_day"`
	FundID     string     `json:"fund_id" db:"fund_id"`
	TimeOffset int        `json:"time_offset" db:"time_offset"` // cosmetic year shift
	Indicators Indicators `json:"indicators" db:"indicators"`
	HostToken  string     `json:"-" db:"host_token"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Player is the room-visible record of one participant. Only the owning
// client writes it.
type Player struct {
	ID          string    `json:"id" db:"id"`
	RoomID      string    `json:"room_id" db:"room_id"`
	Nickname    string    `json:"nickname" db:"nickname"`
	Contact     string    `json:"contact,omitempty" db:"contact"`
	ROI         float64   `json:"roi" db:"roi"`
	TotalAssets float64   `json:"total_assets" db:"total_assets"`
	Units       float64   `json:"units" db:"units"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Snapshot is the derived ledger view a player pushes upstream.
type Snapshot struct {
	PlayerID    string  `json:"player_id"`
	ROI         float64 `json:"roi"`
	TotalAssets float64 `json:"total_assets"`
	Units       float64 `json:"units"`
}

// TxKind is the direction of a Transaction.
type TxKind string

const (
	Buy  TxKind = "BUY"
	Sell TxKind = "SELL"
)

// Transaction is an immutable record of one executed trade.
type Transaction struct {
	ID           string   `json:"id"`
	Day          int      `json:"day"`
	Kind         TxKind   `json:"kind"`
	Price        float64  `json:"price"`
	Units        float64  `json:"units"`
	Amount       float64  `json:"amount"`
	BalanceAfter float64  `json:"balance_after"`
	PnL          *float64 `json:"pnl"` // SELL only
}

// GateEntry marks a player who has paused the shared clock to deliberate.
type GateEntry struct {
	PlayerID string    `json:"player_id" db:"player_id"`
	Nickname string    `json:"nickname" db:"nickname"`
	RaisedAt time.Time `json:"raised_at" db:"raised_at"`
}

// PracticeSeason is the season id used for results outside a competition.
const PracticeSeason = "practice"

// GameResult is a finalized game submitted to the global leaderboard.
type GameResult struct {
	ID             string    `json:"id" db:"id"`
	UID            string    `json:"uid" db:"uid"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	FundID         string    `json:"fund_id" db:"fund_id"`
	ROI            float64   `json:"roi" db:"roi"`
	FinalAssets    float64   `json:"final_assets" db:"final_assets"`
	DurationMonths int       `json:"duration_months" db:"duration_months"`
	SeasonID       string    `json:"season_id" db:"season_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
