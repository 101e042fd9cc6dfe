// Package events holds the wire-level event catalog shared by the session
// coordinator and the websocket gateway. Keeping it in its own package avoids
// a cyclic import between the two.
package events

import "encoding/json"

// Type names an event on the client protocol.
type Type string

// Server-to-client events.
const (
	TypeWelcome          Type = "welcome"
	TypeRoomCreated      Type = "roomCreated"
	TypeRoomJoined       Type = "roomJoined"
	TypeRoomNotFound     Type = "roomNotFound"
	TypeUserJoined       Type = "userJoined"
	TypeSettingsUpdated  Type = "settingsUpdated"
	TypeMetronomeStarted Type = "metronomeStarted"
	TypeMetronomeStopped Type = "metronomeStopped"
	TypeUserLeft         Type = "userLeft"
	TypeNewHost          Type = "newHost"
	TypeActiveRooms      Type = "activeRooms"
	TypeError            Type = "error"
)

// Client-to-server events. metronomeStarted/metronomeStopped appear in both
// directions: the request toggles transport, the echo fans out to the room.
const (
	TypeCreateRoom     Type = "createRoom"
	TypeJoinRoom       Type = "joinRoom"
	TypeUpdateSettings Type = "updateSettings"
	TypeLeaveRoom      Type = "leaveRoom"
	TypeGetActiveRooms Type = "getActiveRooms"
)

// Envelope is the framing for every message in either direction.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Error codes carried by TypeError.
const (
	CodeNotHost        = "not_host"
	CodeInvalidSetting = "invalid_setting"
	CodeRoomNotFound   = "room_not_found"
	CodeRoomsExhausted = "rooms_exhausted"
)

// WelcomePayload tells a freshly upgraded connection its opaque client id so
// it can recognize itself in later userLeft/newHost notices.
type WelcomePayload struct {
	ClientID string `json:"clientId"`
}

// UserJoinedPayload announces a new member to the rest of the room.
type UserJoinedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// UserLeftPayload announces a departed member to the rest of the room.
type UserLeftPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// NewHostPayload announces host succession after the host leaves.
type NewHostPayload struct {
	RoomID  string `json:"roomId"`
	NewHost string `json:"newHost"`
}

// SettingsUpdatedPayload propagates the room's settings after a host change.
type SettingsUpdatedPayload struct {
	RoomID        string  `json:"roomId"`
	Tempo         float64 `json:"bpm"`
	TimeSignature string  `json:"timeSignature"`
}

// TransportPayload is the echo for metronomeStarted/metronomeStopped.
type TransportPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload is an explicit rejection delivered only to the requester.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinRoomRequest asks to join an existing room.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

// LeaveRoomRequest asks to leave a room explicitly.
type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

// UpdateSettingsRequest carries a host's settings change. Absent fields leave
// the corresponding setting untouched.
type UpdateSettingsRequest struct {
	RoomID        string   `json:"roomId"`
	Tempo         *float64 `json:"bpm,omitempty"`
	TimeSignature *string  `json:"timeSignature,omitempty"`
}

// TransportRequest toggles a room's transport state.
type TransportRequest struct {
	RoomID string `json:"roomId"`
}
