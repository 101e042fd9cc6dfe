package rooms

import "errors"

var (
	// ErrRoomNotFound is returned when an operation references a room id
	// that does not exist in the store.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotMember is returned when a host assignment targets a client
	// that is not currently a member of the room.
	ErrNotMember = errors.New("client is not a member of the room")

	// ErrInvalidSetting is returned for out-of-range tempo or time
	// signature values. Values are rejected, never clamped.
	ErrInvalidSetting = errors.New("setting out of range")

	// ErrDuplicateRoomID is returned when id generation keeps colliding
	// with live rooms and the retry limit is exhausted.
	ErrDuplicateRoomID = errors.New("room id generation exhausted")
)
