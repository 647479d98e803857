package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/testutil"
	"github.com/parleyhq/parley/types"
)

func TestNew_UniqueIDs(t *testing.T) {
	a := New(testutil.NewFakeTransport(), 0)
	b := New(testutil.NewFakeTransport(), 0)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.False(t, a.IsAuthenticated())
}

func TestSend_SequenceNumbersMonotonic(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s := New(tr, 0)

	for i := 0; i < 5; i++ {
		ok := s.SendEvent(protocol.EventMessageCreate, map[string]string{"n": "x"})
		require.True(t, ok)
	}

	frames := tr.Frames()
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, int64(i+1), f.S, "dispatch sequence numbers start at 1 and increase without gaps")
	}
}

func TestSend_AckFramesCarryNoSequence(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s := New(tr, 0)

	require.True(t, s.SendEvent(protocol.EventReady, struct{}{}))
	require.True(t, s.Send(protocol.HeartbeatAck()))
	require.True(t, s.SendEvent(protocol.EventGroupsSync, struct{}{}))

	frames := tr.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, int64(1), frames[0].S)
	assert.Equal(t, int64(0), frames[1].S, "heartbeat ack must not consume a sequence number")
	assert.Equal(t, protocol.OpHeartbeatAck, frames[1].Op)
	assert.Equal(t, int64(2), frames[2].S)
}

func TestSend_SharedFrameNotMutated(t *testing.T) {
	// Broadcast paths hand one frame to many sessions; stamping the
	// sequence must not mutate the shared value.
	f, err := protocol.Dispatch(protocol.EventTypingStart, map[string]string{"g": "g1"})
	require.NoError(t, err)

	trA, trB := testutil.NewFakeTransport(), testutil.NewFakeTransport()
	a, b := New(trA, 0), New(trB, 0)

	require.True(t, a.Send(f))
	require.True(t, b.Send(f))

	assert.Equal(t, int64(0), f.S, "shared frame must remain unstamped")
	assert.Equal(t, int64(1), trA.Frames()[0].S)
	assert.Equal(t, int64(1), trB.Frames()[0].S)
}

func TestSend_ClosedTransportReturnsFalse(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s := New(tr, 0)
	tr.SetOpen(false)

	assert.False(t, s.SendEvent(protocol.EventMessageCreate, struct{}{}))
	assert.Equal(t, 0, tr.FrameCount())
}

func TestSubscriptions_LocalSetOperations(t *testing.T) {
	s := New(testutil.NewFakeTransport(), 0)

	assert.False(t, s.IsSubscribedToGroup("g1"))

	s.SubscribeToGroup("g1")
	s.SubscribeToGroup("g2")
	s.SubscribeToGroup("g1") // idempotent

	assert.True(t, s.IsSubscribedToGroup("g1"))
	assert.ElementsMatch(t, []string{"g1", "g2"}, s.GroupIDs())

	s.UnsubscribeFromGroup("g1")
	assert.False(t, s.IsSubscribedToGroup("g1"))
	assert.ElementsMatch(t, []string{"g2"}, s.GroupIDs())
}

func TestAuthenticate_AttachesProfile(t *testing.T) {
	s := New(testutil.NewFakeTransport(), 0)

	_, ok := s.User()
	assert.False(t, ok)
	assert.Empty(t, s.UserID())

	s.Authenticate(types.PublicProfile{ID: "u1", Username: "ana"})

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "u1", s.UserID())
	profile, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, "ana", profile.Username)
}

func TestLiveness(t *testing.T) {
	s := New(testutil.NewFakeTransport(), 20*time.Millisecond)
	assert.True(t, s.IsAlive())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.IsAlive())

	s.UpdateHeartbeat()
	assert.True(t, s.IsAlive())
}

func TestClose_Idempotent(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s := New(tr, 0)

	s.Close(protocol.ClosePolicyViolation, "auth failed")
	s.Close(protocol.CloseStaleConnection, "stale")

	require.Equal(t, 1, tr.CloseCount(), "only the first close reaches the transport")
	code, _ := tr.LastClose()
	assert.Equal(t, protocol.ClosePolicyViolation, code)
	assert.False(t, s.IsOpen())
}

func TestSendEvent_PayloadShape(t *testing.T) {
	tr := testutil.NewFakeTransport()
	s := New(tr, 0)

	require.True(t, s.SendEvent(protocol.EventUserPresence, map[string]any{"user_id": "u1", "status": "idle"}))

	f := tr.Frames()[0]
	assert.Equal(t, protocol.EventUserPresence, f.T)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(f.D, &payload))
	assert.Equal(t, "idle", payload["status"])
}
