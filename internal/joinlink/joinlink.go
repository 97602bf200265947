// Package joinlink handles room id generation and validation and the
// shareable join link that carries a room id to a player.
package joinlink

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
)

// Room ids are four digits with no leading zero: 1000..9999.
const (
	MinRoomID = 1000
	MaxRoomID = 9999
)

// JoinPath is the path segment of a join link.
const JoinPath = "/battle"

var roomIDRegex = regexp.MustCompile(`^[1-9][0-9]{3}$`)

var ErrInvalidRoomID = errors.New("joinlink: invalid room id")

// NewRoomID draws a random room id. Collision handling is the caller's
// concern.
func NewRoomID(r *rand.Rand) string {
	if r == nil {
		return fmt.Sprintf("%d", MinRoomID+rand.IntN(MaxRoomID-MinRoomID+1))
	}
	return fmt.Sprintf("%d", MinRoomID+r.IntN(MaxRoomID-MinRoomID+1))
}

// ValidRoomID reports whether id has the room id format.
func ValidRoomID(id string) bool {
	return roomIDRegex.MatchString(id)
}

// URL builds the join link for roomID under base, e.g.
// https://play.example.com/battle?room=1234.
func URL(base, roomID string) (string, error) {
	if !ValidRoomID(roomID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + JoinPath
	u.RawQuery = url.Values{"room": {roomID}}.Encode()
	return u.String(), nil
}

// Parse extracts the room id from a join link. A bare room id is accepted
// as-is.
func Parse(link string) (string, error) {
	link = strings.TrimSpace(link)
	if ValidRoomID(link) {
		return link, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRoomID, link)
	}
	id := u.Query().Get("room")
	if !ValidRoomID(id) {
		return "", fmt.Errorf("%w: %s (expected <base>%s?room=NNNN)", ErrInvalidRoomID, link, JoinPath)
	}
	return id, nil
}
