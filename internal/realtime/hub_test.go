package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(broadcastID uuid.UUID, viewerID string) *Client {
	return &Client{
		ID:          uuid.NewString(),
		BroadcastID: broadcastID,
		ViewerID:    viewerID,
		send:        make(chan WSMessage, 8),
	}
}

func TestHub_RegisterCountsViewerConnections(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	id := uuid.New()
	a1 := newTestClient(id, "a")
	a2 := newTestClient(id, "a")
	b := newTestClient(id, "b")

	assert.True(t, hub.Register(a1))
	assert.False(t, hub.Register(a2))
	assert.True(t, hub.Register(b))
	assert.Equal(t, 3, hub.Connections(id))

	assert.False(t, hub.Unregister(a1))
	assert.True(t, hub.Unregister(a2))
	assert.False(t, hub.Unregister(a2), "second unregister is a no-op")
	assert.True(t, hub.Unregister(b))
	assert.Equal(t, 0, hub.Connections(id))
}

func TestHub_PublishWithoutRedisIsLocal(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	id := uuid.New()
	c := newTestClient(id, "a")
	other := newTestClient(uuid.New(), "b")
	hub.Register(c)
	hub.Register(other)

	hub.PublishViewerCount(id, 4, 1)

	require.Len(t, c.send, 1)
	msg := <-c.send
	assert.Equal(t, EventViewerCount, msg.Event)
	var vc ViewerCount
	require.NoError(t, json.Unmarshal(msg.Data, &vc))
	assert.Equal(t, ViewerCount{BroadcastID: id, Viewers: 4, Seq: 1}, vc)
	assert.Empty(t, other.send)
}

func TestHub_PublishThroughRedis(t *testing.T) {
	ps := newMemPubSub()
	hub := NewHub(nil, ps, ps)
	id := uuid.New()
	c := newTestClient(id, "a")

	hub.Register(c)
	require.True(t, ps.subscribed(id))

	hub.PublishViewerCount(id, 2, 1)
	assert.Equal(t, 1, ps.published)
	require.Len(t, c.send, 1, "delivered once, from the subscription")

	hub.Unregister(c)
	assert.False(t, ps.subscribed(id))
}

func TestHub_SendToClient(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	id := uuid.New()
	a := newTestClient(id, "a")
	b := newTestClient(id, "b")
	hub.Register(a)
	hub.Register(b)

	hub.SendToClient(id, a.ID, EventPresence, map[string]int{"viewers": 2})
	hub.SendToClient(id, "missing", EventPresence, nil)

	assert.Len(t, a.send, 1)
	assert.Empty(t, b.send)
}

func TestHub_FullBufferDropsMessage(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	id := uuid.New()
	c := &Client{ID: "c", BroadcastID: id, ViewerID: "v", send: make(chan WSMessage, 1)}
	hub.Register(c)

	hub.BroadcastLocal(id, EventViewerCount, json.RawMessage(`{"viewers":1}`))
	hub.BroadcastLocal(id, EventViewerCount, json.RawMessage(`{"viewers":2}`))

	require.Len(t, c.send, 1)
	assert.JSONEq(t, `{"viewers":1}`, string((<-c.send).Data))
}

func TestHub_StaleViewerCountDropped(t *testing.T) {
	ps := newMemPubSub()
	hub := NewHub(nil, ps, ps)
	id := uuid.New()
	c := newTestClient(id, "a")
	hub.Register(c)

	hub.PublishViewerCount(id, 3, 5)
	hub.PublishViewerCount(id, 2, 4)
	hub.PublishViewerCount(id, 2, 5)
	hub.PublishViewerCount(id, 1, 6)

	require.Len(t, c.send, 2)
	var first, second ViewerCount
	require.NoError(t, json.Unmarshal((<-c.send).Data, &first))
	require.NoError(t, json.Unmarshal((<-c.send).Data, &second))
	assert.Equal(t, 3, first.Viewers)
	assert.Equal(t, ViewerCount{BroadcastID: id, Viewers: 1, Seq: 6}, second)
}

func TestHub_PublishEndedMarksFinal(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	id := uuid.New()
	a := newTestClient(id, "a")
	b := newTestClient(id, "b")
	hub.Register(a)
	hub.Register(b)

	hub.PublishEnded(id)

	for _, c := range []*Client{a, b} {
		require.Len(t, c.send, 1)
		msg := <-c.send
		assert.Equal(t, EventEnded, msg.Event)
		assert.True(t, msg.final)
		assert.JSONEq(t, `{"broadcast_id":"`+id.String()+`"}`, string(msg.Data))
	}
}
