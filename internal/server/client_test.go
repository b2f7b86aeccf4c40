package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/storyweave/collab/internal/testutil"
	"github.com/storyweave/collab/internal/types"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *Message, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&Message{Kind: KindChat})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be queued")
		default:
			t.Error("expected a message to be queued, but none was")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *Message, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &Message{} // pre-fill to simulate a slow consumer
		res := c.queueMessage(&Message{Kind: KindChat})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	ts := Now()
	msg := &Message{
		Kind:      KindChat,
		Timestamp: ts,
		Sender: &types.Participant{
			ConnectionId: "conn-a",
			UserId:       1,
			DisplayName:  "alice",
			JoinedAt:     ts,
		},
		Text: "hello",
	}

	bytes, err := serializeMessage(msg)
	require.NoError(t, err, "expected no error during serialization")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes, &decoded), "expected serialized message to be valid JSON")

	assert.Equal(t, "chat", decoded["kind"], "expected kind on the wire")
	assert.Equal(t, "hello", decoded["message"], "expected chat text on the wire")
	sender, ok := decoded["sender"].(map[string]any)
	require.True(t, ok, "expected sender object on the wire")
	assert.Equal(t, "conn-a", sender["connection_id"], "expected sender connection id")
	assert.NotContains(t, decoded, "unit_id", "expected empty fields to be omitted")
	assert.NotContains(t, decoded, "expires_at", "expected absent expiry to be omitted")
}

func Test_serializeMessage_emptyRoomSnapshot(t *testing.T) {
	msg := newInitialState([]types.Participant{}, []types.LockInfo{})

	bytes, err := serializeMessage(msg)
	require.NoError(t, err, "expected no error during serialization")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes, &decoded), "expected serialized message to be valid JSON")

	participants, ok := decoded["participants"].([]any)
	require.True(t, ok, "expected participants key even for an empty room")
	assert.Empty(t, participants, "expected an empty participants array")

	locks, ok := decoded["locks"].([]any)
	require.True(t, ok, "expected locks key even with no locks held")
	assert.Empty(t, locks, "expected an empty locks array")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()

	select {
	case <-c.stop:
		// closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}

	// a second stop must not panic
	c.stopClient()
}

func Test_cleanup_runsOnce(t *testing.T) {
	cs := newTestCollabServer(t)
	go cs.Run()
	defer shutdownServer(t, cs)

	c := newTestClient(t, cs, "conn-a", 1, "alice")
	cs.Register("9", c)
	recvMessage(t, c) // initial_state

	c.cleanup()
	c.cleanup() // second close path must be a no-op

	select {
	case <-c.stop:
	default:
		t.Error("expected cleanup to stop the client")
	}

	require.Eventually(t, func() bool {
		return cs.RoomParticipants("9") != nil && len(cs.RoomParticipants("9")) == 0
	}, time.Second, 10*time.Millisecond, "expected participant removed from the room")
}

func Test_leaveRoom_roomAlreadyDown(t *testing.T) {
	cs := newTestCollabServer(t)
	r := newRoom("9", cs)
	close(r.done) // room goroutine already exited

	c := newTestClient(t, cs, "conn-a", 1, "alice")
	c.setRoom(r)

	done := make(chan struct{})
	go func() {
		c.leaveRoom()
		close(done)
	}()

	select {
	case <-done:
		// leaveRoom must not block on a dead room
	case <-time.After(time.Second):
		t.Fatal("timeout: leaveRoom blocked on a dead room")
	}
}

func Test_setRoom_getRoom(t *testing.T) {
	c := &Client{}
	assert.Nil(t, c.getRoom(), "expected no room before registration")

	r := &Room{id: "9"}
	c.setRoom(r)
	assert.Equal(t, r, c.getRoom(), "expected the registered room")
}
