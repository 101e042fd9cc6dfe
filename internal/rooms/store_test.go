package rooms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoomDefaults(t *testing.T) {
	s := NewStore()

	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)

	assert.Len(t, snap.RoomID, roomIDLength)
	for _, r := range snap.RoomID {
		assert.Contains(t, roomIDLetters, string(r))
	}
	assert.Equal(t, float64(DefaultTempo), snap.Tempo)
	assert.Equal(t, "4/4", snap.TimeSignature)
	assert.Equal(t, "alice", snap.HostID)
	assert.False(t, snap.IsPlaying)
	assert.Equal(t, []string{"alice"}, snap.Members)
}

func TestCreateRoomRetriesOnCollision(t *testing.T) {
	s := NewStore()
	ids := []string{"aaaaaa", "aaaaaa", "bbbbbb"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := s.CreateRoom("alice")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaa", first.RoomID)

	// Second create collides once, then regenerates.
	second, err := s.CreateRoom("bob")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", second.RoomID)

	// The colliding room was never overwritten.
	snap, err := s.Snapshot("aaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.HostID)
}

func TestCreateRoomExhaustedIDSpace(t *testing.T) {
	s := NewStore()
	s.newID = func() string { return "aaaaaa" }

	_, err := s.CreateRoom("alice")
	require.NoError(t, err)

	_, err = s.CreateRoom("bob")
	assert.ErrorIs(t, err, ErrDuplicateRoomID)
}

func TestSnapshotUnknownRoom(t *testing.T) {
	s := NewStore()

	_, err := s.Snapshot("zzz")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSetTempoRejectsOutOfRange(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetTempo(snap.RoomID, 0), ErrInvalidSetting)
	assert.ErrorIs(t, s.SetTempo(snap.RoomID, -30), ErrInvalidSetting)

	// Rejected values are not clamped; the stored tempo is untouched.
	after, err := s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultTempo), after.Tempo)

	require.NoError(t, s.SetTempo(snap.RoomID, 120))
	after, err = s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, float64(120), after.Tempo)
}

func TestSetTimeSignature(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)

	err = s.SetTimeSignature(snap.RoomID, TimeSignature{BeatsPerMeasure: 0, BeatUnit: 4})
	assert.ErrorIs(t, err, ErrInvalidSetting)

	require.NoError(t, s.SetTimeSignature(snap.RoomID, TimeSignature{BeatsPerMeasure: 6, BeatUnit: 8}))
	after, err := s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "6/8", after.TimeSignature)
}

func TestUpdateSettingsAllOrNothing(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)

	bpm := 150.0
	bad := TimeSignature{BeatsPerMeasure: 0, BeatUnit: 4}
	err = s.UpdateSettings(snap.RoomID, &bpm, &bad)
	assert.ErrorIs(t, err, ErrInvalidSetting)

	// The valid tempo was not applied alongside the rejected signature.
	after, err := s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultTempo), after.Tempo)
	assert.Equal(t, "4/4", after.TimeSignature)

	badBPM := -1.0
	good := TimeSignature{BeatsPerMeasure: 3, BeatUnit: 4}
	err = s.UpdateSettings(snap.RoomID, &badBPM, &good)
	assert.ErrorIs(t, err, ErrInvalidSetting)

	after, err = s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "4/4", after.TimeSignature)

	require.NoError(t, s.UpdateSettings(snap.RoomID, &bpm, &good))
	after, err = s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, float64(150), after.Tempo)
	assert.Equal(t, "3/4", after.TimeSignature)
}

func TestUpdateSettingsUnknownRoom(t *testing.T) {
	s := NewStore()

	bpm := 120.0
	assert.ErrorIs(t, s.UpdateSettings("zzz", &bpm, nil), ErrRoomNotFound)
}

func TestSetHostRequiresMembership(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)

	err = s.SetHost(snap.RoomID, "mallory")
	assert.ErrorIs(t, err, ErrNotMember)

	require.NoError(t, s.AddMember(snap.RoomID, "bob"))
	require.NoError(t, s.SetHost(snap.RoomID, "bob"))

	after, err := s.Snapshot(snap.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "bob", after.HostID)
}

func TestRemoveMemberDeletesEmptyRoom(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)

	deleted, err := s.RemoveMember(snap.RoomID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Snapshot(snap.RoomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Empty(t, s.ListActiveRoomIDs())
}

func TestSuccessorHostIsEarliestJoiner(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)
	require.NoError(t, s.AddMember(snap.RoomID, "bob"))
	require.NoError(t, s.AddMember(snap.RoomID, "carol"))

	_, err = s.RemoveMember(snap.RoomID, "alice")
	require.NoError(t, err)

	successor, ok := s.SuccessorHost(snap.RoomID)
	require.True(t, ok)
	assert.Equal(t, "bob", successor)
}

func TestAddMemberIdempotent(t *testing.T) {
	s := NewStore()
	snap, err := s.CreateRoom("alice")
	require.NoError(t, err)
	require.NoError(t, s.AddMember(snap.RoomID, "bob"))

	// Re-adding bob must not bump his join sequence past carol's.
	require.NoError(t, s.AddMember(snap.RoomID, "carol"))
	require.NoError(t, s.AddMember(snap.RoomID, "bob"))

	assert.Equal(t, []string{"alice", "bob", "carol"}, s.Members(snap.RoomID))
}

func TestListActiveRoomIDsSorted(t *testing.T) {
	s := NewStore()
	want := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		snap, err := s.CreateRoom("alice")
		require.NoError(t, err)
		want = append(want, snap.RoomID)
	}

	got := s.ListActiveRoomIDs()
	assert.ElementsMatch(t, want, got)
	assert.IsIncreasing(t, got)
}

func TestParseTimeSignature(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeSignature
		wantErr bool
	}{
		{in: "4/4", want: TimeSignature{4, 4}},
		{in: "6/8", want: TimeSignature{6, 8}},
		{in: " 3 / 4 ", want: TimeSignature{3, 4}},
		{in: "0/4", wantErr: true},
		{in: "4/0", wantErr: true},
		{in: "44", wantErr: true},
		{in: "a/b", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.in, "/", "_"), func(t *testing.T) {
			got, err := ParseTimeSignature(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSetting)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
