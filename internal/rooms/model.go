package rooms

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeSignature is the meter of a room: beats per measure over a beat unit,
// e.g. 4/4 or 6/8.
type TimeSignature struct {
	BeatsPerMeasure int
	BeatUnit        int
}

// DefaultTimeSignature is the signature every new room starts with.
var DefaultTimeSignature = TimeSignature{BeatsPerMeasure: 4, BeatUnit: 4}

func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.BeatsPerMeasure, ts.BeatUnit)
}

// Valid reports whether the signature is in range. Out-of-range signatures
// are rejected by the store, never clamped.
func (ts TimeSignature) Valid() bool {
	return ts.BeatsPerMeasure >= 1 && ts.BeatUnit >= 1
}

// ParseTimeSignature parses the "beats/unit" wire form, e.g. "3/4".
func ParseTimeSignature(s string) (TimeSignature, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return TimeSignature{}, fmt.Errorf("malformed time signature %q: %w", s, ErrInvalidSetting)
	}
	beats, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return TimeSignature{}, fmt.Errorf("malformed time signature %q: %w", s, ErrInvalidSetting)
	}
	unit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return TimeSignature{}, fmt.Errorf("malformed time signature %q: %w", s, ErrInvalidSetting)
	}
	ts := TimeSignature{BeatsPerMeasure: beats, BeatUnit: unit}
	if !ts.Valid() {
		return TimeSignature{}, fmt.Errorf("time signature %q out of range: %w", s, ErrInvalidSetting)
	}
	return ts, nil
}

// Room is the authoritative state of one collaborative session. All mutation
// goes through the Store so that invariants hold; members maps client id to
// the join sequence used for deterministic host succession.
type Room struct {
	ID            string
	Tempo         float64
	TimeSignature TimeSignature
	HostID        string
	IsPlaying     bool

	members map[string]uint64
}

// Snapshot is an immutable copy of room state for marshaling onto the wire.
// Field names match the client protocol.
type Snapshot struct {
	RoomID        string   `json:"roomId"`
	Tempo         float64  `json:"bpm"`
	TimeSignature string   `json:"timeSignature"`
	HostID        string   `json:"host"`
	IsPlaying     bool     `json:"isPlaying"`
	Members       []string `json:"members"`
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		RoomID:        r.ID,
		Tempo:         r.Tempo,
		TimeSignature: r.TimeSignature.String(),
		HostID:        r.HostID,
		IsPlaying:     r.IsPlaying,
		Members:       r.memberList(),
	}
}
