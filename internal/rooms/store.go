package rooms

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultTempo is the tempo every new room starts with.
	DefaultTempo = 90

	roomIDLength  = 6
	roomIDLetters = "0123456789abcdefghijklmnopqrstuvwxyz"

	// Collisions in a 36^6 id space are effectively unreachable; the
	// bound exists so a broken generator fails loudly instead of looping.
	maxIDAttempts = 16
)

// Store is the single source of truth for live rooms. It is an owned
// instance injected into the coordinator, never a package-level singleton,
// and is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	joinSeq uint64

	// newID is swapped out in tests to force id collisions.
	newID func() string
}

// NewStore creates an empty room store.
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
		newID: newRoomID,
	}
}

func newRoomID() string {
	b := make([]byte, roomIDLength)
	for i := range b {
		b[i] = roomIDLetters[rand.Intn(len(roomIDLetters))]
	}
	return string(b)
}

// CreateRoom allocates a fresh room with default settings, the given client
// as host and sole member. Id generation retries on collision with a live
// room rather than overwriting it.
func (s *Store) CreateRoom(hostID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return Snapshot{}, ErrDuplicateRoomID
		}
		id = s.newID()
		if _, taken := s.rooms[id]; !taken {
			break
		}
		log.Warn().Str("room_id", id).Msg("room id collision, regenerating")
	}

	s.joinSeq++
	room := &Room{
		ID:            id,
		Tempo:         DefaultTempo,
		TimeSignature: DefaultTimeSignature,
		HostID:        hostID,
		members:       map[string]uint64{hostID: s.joinSeq},
	}
	s.rooms[id] = room
	return room.snapshot(), nil
}

// Snapshot returns a copy of the room's current state.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	return room.snapshot(), nil
}

// AddMember joins a client to a room. Adding an existing member is a no-op
// that keeps the original join sequence.
func (s *Store) AddMember(id, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	if _, present := room.members[clientID]; present {
		return nil
	}
	s.joinSeq++
	room.members[clientID] = s.joinSeq
	return nil
}

// RemoveMember removes a client from a room. Emptying the member set deletes
// the room as an atomic follow-up; the returned bool reports that deletion.
func (s *Store) RemoveMember(id, clientID string) (deleted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return false, ErrRoomNotFound
	}
	delete(room.members, clientID)
	if len(room.members) == 0 {
		delete(s.rooms, id)
		return true, nil
	}
	return false, nil
}

// SetHost reassigns the room's host. The target must be a current member so
// that the host always references someone present in the room.
func (s *Store) SetHost(id, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	if _, member := room.members[clientID]; !member {
		return fmt.Errorf("cannot promote %s in room %s: %w", clientID, id, ErrNotMember)
	}
	room.HostID = clientID
	return nil
}

// SetTempo sets the room tempo in beats per minute. Non-positive values are
// rejected with ErrInvalidSetting.
func (s *Store) SetTempo(id string, bpm float64) error {
	if bpm <= 0 {
		return fmt.Errorf("tempo %v: %w", bpm, ErrInvalidSetting)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.Tempo = bpm
	return nil
}

// SetTimeSignature sets the room meter, rejecting out-of-range values.
func (s *Store) SetTimeSignature(id string, ts TimeSignature) error {
	if !ts.Valid() {
		return fmt.Errorf("time signature %s: %w", ts, ErrInvalidSetting)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.TimeSignature = ts
	return nil
}

// UpdateSettings applies a tempo and/or signature change as one operation:
// every supplied field is validated before anything is stored, so a rejected
// request leaves the room exactly as it was.
func (s *Store) UpdateSettings(id string, bpm *float64, ts *TimeSignature) error {
	if bpm != nil && *bpm <= 0 {
		return fmt.Errorf("tempo %v: %w", *bpm, ErrInvalidSetting)
	}
	if ts != nil && !ts.Valid() {
		return fmt.Errorf("time signature %s: %w", *ts, ErrInvalidSetting)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	if bpm != nil {
		room.Tempo = *bpm
	}
	if ts != nil {
		room.TimeSignature = *ts
	}
	return nil
}

// SetPlaying sets the room's transport state.
func (s *Store) SetPlaying(id string, playing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.IsPlaying = playing
	return nil
}

// IsMember reports whether the client is currently joined to the room.
func (s *Store) IsMember(id, clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return false
	}
	_, member := room.members[clientID]
	return member
}

// Members returns the room's current membership in join order, or nil if the
// room does not exist. The broadcast gateway reads this at delivery-target
// resolution time so removed clients never receive trailing broadcasts.
func (s *Store) Members(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	return room.memberList()
}

// SuccessorHost returns the earliest-joined current member, the deterministic
// choice for host succession.
func (s *Store) SuccessorHost(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok || len(room.members) == 0 {
		return "", false
	}
	var (
		successor string
		lowest    uint64
		first     = true
	)
	for clientID, seq := range room.members {
		if first || seq < lowest {
			successor, lowest, first = clientID, seq, false
		}
	}
	return successor, true
}

// ListActiveRoomIDs returns the ids of all live rooms, sorted for stable
// display. A room with zero members never appears here.
func (s *Store) ListActiveRoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// memberList returns members ordered by join sequence. Callers hold s.mu.
func (r *Room) memberList() []string {
	members := make([]string, 0, len(r.members))
	for clientID := range r.members {
		members = append(members, clientID)
	}
	sort.Slice(members, func(i, j int) bool {
		return r.members[members[i]] < r.members[members[j]]
	})
	return members
}
