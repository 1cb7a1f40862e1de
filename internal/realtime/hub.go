// Package realtime pushes live room events to WebSocket viewers and fans them out
// across server instances over Redis pub/sub.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Events sent to sockets.
const (
	EventViewerCount = "viewer_count"
	EventPresence    = "presence"
	// EventEnded is the last message a socket receives before the server closes it.
	EventEnded = "broadcast_ended"
)

// ViewerCount is the payload of a viewer_count event. Seq increases with every change;
// rooms drop counts older than the last one delivered.
type ViewerCount struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
	Viewers     int       `json:"viewers"`
	Seq         int64     `json:"seq"`
}

// Ended is the payload of a broadcast_ended event.
type Ended struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
}

// RedisPublisher publishes live room events for other instances.
type RedisPublisher interface {
	PublishLiveEvent(broadcastID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to a live room channel and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeLive(broadcastID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

type room struct {
	clients map[string]*Client
	// viewers counts open connections per viewer so that only the last one leaves.
	viewers map[string]int
	lastSeq int64
}

// Hub maintains broadcast_id -> set of connections and broadcasts messages.
// With Redis configured, events are published and every instance, this one included,
// delivers them to its local sockets from the subscription.
type Hub struct {
	rooms    map[uuid.UUID]*room
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]*room),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its live room and reports whether it is the viewer's first
// connection. Starts the Redis subscription for the room on its first client.
func (h *Hub) Register(c *Client) (first bool) {
	h.mu.Lock()
	r := h.rooms[c.BroadcastID]
	if r == nil {
		r = &room{clients: make(map[string]*Client), viewers: make(map[string]int)}
		h.rooms[c.BroadcastID] = r
		if h.redisSub != nil {
			broadcastID := c.BroadcastID
			cancel, err := h.redisSub.SubscribeLive(broadcastID, func(event string, payload []byte) {
				h.BroadcastLocal(broadcastID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("subscribe live channel failed", zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
			} else {
				h.subs[broadcastID] = cancel
			}
		}
	}
	r.clients[c.ID] = c
	r.viewers[c.ViewerID]++
	first = r.viewers[c.ViewerID] == 1
	h.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	h.logger.Debug("client joined live room",
		zap.String("client_id", c.ID), zap.String("viewer_id", c.ViewerID), zap.String("broadcast_id", c.BroadcastID.String()))
	return first
}

// Unregister removes a client and reports whether it was the viewer's last connection.
// Cancels the Redis subscription when the room empties.
func (h *Hub) Unregister(c *Client) (last bool) {
	h.mu.Lock()
	r, ok := h.rooms[c.BroadcastID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if _, ok := r.clients[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(r.clients, c.ID)
	r.viewers[c.ViewerID]--
	if r.viewers[c.ViewerID] <= 0 {
		delete(r.viewers, c.ViewerID)
		last = true
	}
	if len(r.clients) == 0 {
		delete(h.rooms, c.BroadcastID)
		if cancel, ok := h.subs[c.BroadcastID]; ok {
			cancel()
			delete(h.subs, c.BroadcastID)
		}
	}
	h.mu.Unlock()

	metrics.WebSocketConnections.Dec()
	h.logger.Debug("client left live room",
		zap.String("client_id", c.ID), zap.String("viewer_id", c.ViewerID), zap.String("broadcast_id", c.BroadcastID.String()))
	return last
}

// BroadcastLocal sends a message to all clients in a live room on this instance.
// Viewer counts with a seq not newer than the last delivered are dropped. An ended
// event closes every socket of the room once it is written.
func (h *Hub) BroadcastLocal(broadcastID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data, final: event == EventEnded}
	var seq int64
	if event == EventViewerCount {
		var vc ViewerCount
		if json.Unmarshal(data, &vc) == nil {
			seq = vc.Seq
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[broadcastID]
	if r == nil {
		return
	}
	if seq > 0 {
		if seq <= r.lastSeq {
			h.logger.Debug("dropping stale viewer count",
				zap.String("broadcast_id", broadcastID.String()), zap.Int64("seq", seq), zap.Int64("last_seq", r.lastSeq))
			return
		}
		r.lastSeq = seq
	}
	for _, c := range r.clients {
		c.deliver(msg)
	}
}

// Publish delivers an event to the live room on every instance. Without Redis it
// broadcasts locally.
func (h *Hub) Publish(broadcastID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.BroadcastLocal(broadcastID, event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		return
	}
	if err := h.redis.PublishLiveEvent(broadcastID, event, data); err != nil {
		h.logger.Warn("publish live event failed, delivering locally",
			zap.Error(err), zap.String("broadcast_id", broadcastID.String()), zap.String("event", event))
		h.BroadcastLocal(broadcastID, event, payload)
	}
}

// PublishViewerCount announces a viewer count change. It has the signature of
// presence.CountChangeHandler.
func (h *Hub) PublishViewerCount(broadcastID uuid.UUID, viewers int, seq int64) {
	h.Publish(broadcastID, EventViewerCount, ViewerCount{BroadcastID: broadcastID, Viewers: viewers, Seq: seq})
}

// PublishEnded tells every viewer of a broadcast that it ended and closes their sockets.
// It has the signature of presence.EndHandler.
func (h *Hub) PublishEnded(broadcastID uuid.UUID) {
	h.logger.Info("closing live room", zap.String("broadcast_id", broadcastID.String()))
	h.Publish(broadcastID, EventEnded, Ended{BroadcastID: broadcastID})
}

// SendToClient sends a message to a single client in a live room.
func (h *Hub) SendToClient(broadcastID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data, final: event == EventEnded}
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.rooms[broadcastID]
	if r == nil {
		return
	}
	c, ok := r.clients[clientID]
	if !ok {
		return
	}
	c.deliver(msg)
}

// Connections returns the number of sockets open in a live room on this instance.
func (h *Hub) Connections(broadcastID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[broadcastID]; r != nil {
		return len(r.clients)
	}
	return 0
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
