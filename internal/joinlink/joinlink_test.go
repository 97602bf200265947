package joinlink

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"testing"
)

func TestNewRoomID_InRange(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 1000; i++ {
		id := NewRoomID(r)
		n, err := strconv.Atoi(id)
		if err != nil || n < MinRoomID || n > MaxRoomID {
			t.Fatalf("room id out of range: %q", id)
		}
		if !ValidRoomID(id) {
			t.Fatalf("generated id failed validation: %q", id)
		}
	}
	if !ValidRoomID(NewRoomID(nil)) {
		t.Error("nil rand should still produce a valid id")
	}
}

func TestValidRoomID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"1000", true},
		{"9999", true},
		{"0999", false},
		{"123", false},
		{"12345", false},
		{"12a4", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := ValidRoomID(tc.id); got != tc.want {
			t.Errorf("ValidRoomID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestURL(t *testing.T) {
	got, err := URL("https://play.example.com/", "1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://play.example.com/battle?room=1234" {
		t.Errorf("unexpected link: %s", got)
	}
	if _, err := URL("https://play.example.com", "12"); !errors.Is(err, ErrInvalidRoomID) {
		t.Errorf("expected ErrInvalidRoomID, got %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://play.example.com/battle?room=1234", "1234", false},
		{"http://localhost:8080/battle?room=5678&x=1", "5678", false},
		{" 4321 ", "4321", false},
		{"https://play.example.com/battle", "", true},
		{"https://play.example.com/battle?room=99", "", true},
		{"not a link", "", true},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidRoomID) {
				t.Errorf("Parse(%q): expected ErrInvalidRoomID, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Parse(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
