package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tempohq/cadence/internal/events"
	"github.com/tempohq/cadence/internal/rooms"
)

// ErrNotHost is returned internally when a host-gated mutation is attempted
// by a non-host; the caller sees an explicit error event, never a broadcast.
var ErrNotHost = errors.New("client is not the room host")

// RoomNotifyOptions controls room-scoped delivery.
type RoomNotifyOptions struct {
	// ExcludeClientID, when set, is skipped during fan-out. Used for
	// userJoined so the joiner only gets its roomJoined ack.
	ExcludeClientID string
}

// Notifier is what the coordinator needs from the broadcast gateway.
// Room-scoped delivery must resolve membership from the room store at call
// time, not from a snapshot taken before the mutation.
type Notifier interface {
	NotifyOne(clientID string, event events.Type, payload any)
	NotifyRoom(roomID string, event events.Type, payload any, opts RoomNotifyOptions)
	NotifyAll(event events.Type, payload any)
}

// Coordinator is the room session state machine. Every inbound event is
// processed to completion under one mutex: read room, mutate store, fan out
// notifications. That serialization is what keeps the host-membership and
// no-empty-room invariants from ever being observable mid-transition.
type Coordinator struct {
	mu       sync.Mutex
	store    *rooms.Store
	registry *Registry
	notifier Notifier
}

// NewCoordinator wires the coordinator to its owned collaborators.
func NewCoordinator(store *rooms.Store, registry *Registry, notifier Notifier) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: registry,
		notifier: notifier,
	}
}

// Connect registers a fresh connection, tells it its client id and the
// current room listing.
func (c *Coordinator) Connect(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Connect(clientID)
	c.notifier.NotifyOne(clientID, events.TypeWelcome, events.WelcomePayload{ClientID: clientID})
	c.notifier.NotifyOne(clientID, events.TypeActiveRooms, c.store.ListActiveRoomIDs())

	log.Info().Str("client_id", clientID).Msg("client connected")
}

// CreateRoom creates a room with the requester as host and sole member.
func (c *Coordinator) CreateRoom(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.store.CreateRoom(clientID)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("room creation failed")
		c.notifier.NotifyOne(clientID, events.TypeError, events.ErrorPayload{
			Code:    events.CodeRoomsExhausted,
			Message: "could not allocate a room id",
		})
		return
	}
	c.registry.Track(clientID, snap.RoomID)

	c.notifier.NotifyOne(clientID, events.TypeRoomCreated, snap)
	c.broadcastActiveRooms()

	log.Info().
		Str("room_id", snap.RoomID).
		Str("host_id", clientID).
		Msg("room created")
}

// JoinRoom adds the requester to an existing room. A client belongs to at
// most one room: joining implicitly leaves any previous room first, with the
// full departure cascade. Joining a room the client is already in just
// re-sends the snapshot.
func (c *Coordinator) JoinRoom(clientID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Snapshot(roomID); err != nil {
		log.Warn().Str("room_id", roomID).Str("client_id", clientID).Msg("join for unknown room")
		c.notifier.NotifyOne(clientID, events.TypeRoomNotFound, nil)
		return
	}

	if c.store.IsMember(roomID, clientID) {
		snap, _ := c.store.Snapshot(roomID)
		c.notifier.NotifyOne(clientID, events.TypeRoomJoined, snap)
		return
	}

	for _, previous := range c.registry.RoomsOf(clientID) {
		c.leaveLocked(clientID, previous)
	}

	if err := c.store.AddMember(roomID, clientID); err != nil {
		// The room cannot vanish while we hold the coordinator lock;
		// treat as a defensive no-op.
		log.Error().Err(err).Str("room_id", roomID).Msg("join failed after existence check")
		c.notifier.NotifyOne(clientID, events.TypeRoomNotFound, nil)
		return
	}
	c.registry.Track(clientID, roomID)

	snap, _ := c.store.Snapshot(roomID)
	c.notifier.NotifyOne(clientID, events.TypeRoomJoined, snap)
	c.notifier.NotifyRoom(roomID, events.TypeUserJoined, events.UserJoinedPayload{
		RoomID: roomID,
		UserID: clientID,
	}, RoomNotifyOptions{ExcludeClientID: clientID})
	c.broadcastActiveRooms()

	log.Info().Str("room_id", roomID).Str("client_id", clientID).Msg("client joined room")
}

// UpdateSettings applies a host's tempo/signature change and propagates it to
// the whole room, host included. Non-host callers get an explicit rejection
// instead of the silent ignore older clients tolerated; out-of-range values
// are rejected, never clamped.
func (c *Coordinator) UpdateSettings(clientID string, req events.UpdateSettingsRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.store.Snapshot(req.RoomID)
	if err != nil {
		log.Warn().Str("room_id", req.RoomID).Msg("settings update for unknown room")
		c.notifier.NotifyOne(clientID, events.TypeRoomNotFound, nil)
		return
	}
	if snap.HostID != clientID {
		log.Warn().
			Err(ErrNotHost).
			Str("room_id", req.RoomID).
			Str("client_id", clientID).
			Msg("settings update rejected")
		c.notifier.NotifyOne(clientID, events.TypeError, events.ErrorPayload{
			Code:    events.CodeNotHost,
			Message: "only the host may change settings",
		})
		return
	}

	// Parse and validate everything before touching the store: a request
	// mixing a valid tempo with a bad signature must change nothing, or
	// the stored state would diverge from what members last saw.
	var ts *rooms.TimeSignature
	if req.TimeSignature != nil {
		parsed, err := rooms.ParseTimeSignature(*req.TimeSignature)
		if err != nil {
			c.rejectSetting(clientID, err)
			return
		}
		ts = &parsed
	}
	if req.Tempo == nil && ts == nil {
		return
	}
	if err := c.store.UpdateSettings(req.RoomID, req.Tempo, ts); err != nil {
		c.rejectSetting(clientID, err)
		return
	}

	snap, _ = c.store.Snapshot(req.RoomID)
	c.notifier.NotifyRoom(req.RoomID, events.TypeSettingsUpdated, events.SettingsUpdatedPayload{
		RoomID:        req.RoomID,
		Tempo:         snap.Tempo,
		TimeSignature: snap.TimeSignature,
	}, RoomNotifyOptions{})

	log.Info().
		Str("room_id", req.RoomID).
		Float64("bpm", snap.Tempo).
		Str("time_signature", snap.TimeSignature).
		Msg("room settings updated")
}

func (c *Coordinator) rejectSetting(clientID string, err error) {
	log.Warn().Err(err).Str("client_id", clientID).Msg("settings update rejected")
	c.notifier.NotifyOne(clientID, events.TypeError, events.ErrorPayload{
		Code:    events.CodeInvalidSetting,
		Message: err.Error(),
	})
}

// StartMetronome starts the room's shared transport. Any member may invoke
// it; the echo goes to every member including the sender so all beat engines
// start from the same event.
func (c *Coordinator) StartMetronome(clientID, roomID string) {
	c.setTransport(clientID, roomID, true)
}

// StopMetronome stops the room's shared transport.
func (c *Coordinator) StopMetronome(clientID, roomID string) {
	c.setTransport(clientID, roomID, false)
}

func (c *Coordinator) setTransport(clientID, roomID string, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Snapshot(roomID); err != nil {
		log.Warn().Str("room_id", roomID).Msg("transport toggle for unknown room")
		c.notifier.NotifyOne(clientID, events.TypeRoomNotFound, nil)
		return
	}
	if !c.store.IsMember(roomID, clientID) {
		log.Warn().
			Str("room_id", roomID).
			Str("client_id", clientID).
			Msg("transport toggle from non-member ignored")
		return
	}
	if err := c.store.SetPlaying(roomID, playing); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("transport toggle failed")
		return
	}

	event := events.TypeMetronomeStopped
	if playing {
		event = events.TypeMetronomeStarted
	}
	c.notifier.NotifyRoom(roomID, event, events.TransportPayload{RoomID: roomID}, RoomNotifyOptions{})
}

// LeaveRoom removes the requester from one room explicitly.
func (c *Coordinator) LeaveRoom(clientID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Snapshot(roomID); err != nil {
		log.Warn().Str("room_id", roomID).Str("client_id", clientID).Msg("leave for unknown room")
		c.notifier.NotifyOne(clientID, events.TypeRoomNotFound, nil)
		return
	}
	if !c.store.IsMember(roomID, clientID) {
		log.Warn().Str("room_id", roomID).Str("client_id", clientID).Msg("leave from non-member ignored")
		return
	}

	c.leaveLocked(clientID, roomID)
	c.broadcastActiveRooms()
}

// Disconnect runs the leave-equivalent cleanup for every room the client
// belongs to, then forgets the client. A disconnect with no memberships is a
// no-op and sends nothing.
func (c *Coordinator) Disconnect(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registry.Connected(clientID) {
		return
	}

	affected := c.registry.RoomsOf(clientID)
	for _, roomID := range affected {
		c.leaveLocked(clientID, roomID)
	}
	// Only after all cleanups: the registry entry is the disconnect scan
	// index and must survive until the last room is processed.
	c.registry.Disconnect(clientID)

	if len(affected) > 0 {
		c.broadcastActiveRooms()
	}

	log.Info().
		Str("client_id", clientID).
		Int("rooms_left", len(affected)).
		Msg("client disconnected")
}

// ActiveRooms replies to one client with the current room listing.
func (c *Coordinator) ActiveRooms(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifier.NotifyOne(clientID, events.TypeActiveRooms, c.store.ListActiveRoomIDs())
}

// leaveLocked removes clientID from roomID, handling room deletion and host
// succession. Callers hold c.mu and have verified membership.
func (c *Coordinator) leaveLocked(clientID, roomID string) {
	snap, err := c.store.Snapshot(roomID)
	if err != nil {
		log.Warn().Str("room_id", roomID).Msg("leave for already-deleted room ignored")
		return
	}
	wasHost := snap.HostID == clientID

	deleted, err := c.store.RemoveMember(roomID, clientID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("member removal failed")
		return
	}
	c.registry.Untrack(clientID, roomID)

	if deleted {
		log.Info().Str("room_id", roomID).Msg("room deleted, no members left")
		return
	}

	c.notifier.NotifyRoom(roomID, events.TypeUserLeft, events.UserLeftPayload{
		RoomID: roomID,
		UserID: clientID,
	}, RoomNotifyOptions{})

	if wasHost {
		successor, ok := c.store.SuccessorHost(roomID)
		if !ok {
			// Members remain but no successor found: cannot happen
			// while the coordinator lock is held.
			log.Error().Str("room_id", roomID).Msg("no host successor in non-empty room")
			return
		}
		if err := c.store.SetHost(roomID, successor); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("host succession failed")
			return
		}
		c.notifier.NotifyRoom(roomID, events.TypeNewHost, events.NewHostPayload{
			RoomID:  roomID,
			NewHost: successor,
		}, RoomNotifyOptions{})

		log.Info().
			Str("room_id", roomID).
			Str("new_host", successor).
			Msg("host succession")
	}
}

func (c *Coordinator) broadcastActiveRooms() {
	c.notifier.NotifyAll(events.TypeActiveRooms, c.store.ListActiveRoomIDs())
}
