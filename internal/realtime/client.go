package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bidli/backend/internal/auth"
	"github.com/bidli/backend/internal/models"
	"github.com/bidli/backend/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	presenceWait   = 5 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// EventHeartbeat is sent by viewers to keep their presence alive.
const EventHeartbeat = "heartbeat"

// Presence is the viewer tracker driven by socket lifecycles.
type Presence interface {
	Join(ctx context.Context, broadcastID uuid.UUID, viewerID string) (presence.JoinResult, error)
	Leave(ctx context.Context, broadcastID uuid.UUID, viewerID string) (presence.LeaveResult, error)
}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// NewUpgrader returns a WebSocket upgrader accepting the given origins. "*" accepts any.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = struct{}{}
	}
	_, anyOrigin := allowed["*"]
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || anyOrigin {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	// final closes the socket after the message is written.
	final bool
}

// Client represents a single WebSocket connection of a viewer in a live room.
type Client struct {
	ID          string
	BroadcastID uuid.UUID
	ViewerID    string
	hub         *Hub
	presence    Presence
	conn        *websocket.Conn
	send        chan WSMessage
	done        chan struct{}
	logger      *zap.Logger
}

// ServeWs handles GET /ws/live/:id. Authenticated viewers pass a token (query or bearer
// header); anonymous viewers pass viewer_id.
func ServeWs(hub *Hub, p Presence, tokens TokenValidator, upgrader *websocket.Upgrader, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		broadcastID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid broadcast id"})
			return
		}
		viewerID, ok := viewerIdentity(c, tokens)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			BroadcastID: broadcastID,
			ViewerID:    viewerID,
			hub:         hub,
			presence:    p,
			conn:        conn,
			send:        make(chan WSMessage, sendBuffer),
			done:        make(chan struct{}),
			logger:      logger,
		}
		hub.Register(client)
		client.join()
		go client.writePump()
		client.readPump()
	}
}

func viewerIdentity(c *gin.Context, tokens TokenValidator) (string, bool) {
	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token != "" {
		claims, err := tokens.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return "", false
		}
		return claims.UserID.String(), true
	}
	if v := c.Query("viewer_id"); v != "" {
		return v, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token or viewer_id required"})
	return "", false
}

// join adds or refreshes the viewer and tells this socket the outcome.
func (c *Client) join() {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()
	res, err := c.presence.Join(ctx, c.BroadcastID, c.ViewerID)
	if errors.Is(err, models.ErrBroadcastEnded) {
		c.hub.SendToClient(c.BroadcastID, c.ID, EventEnded, Ended{BroadcastID: c.BroadcastID})
		return
	}
	if err != nil {
		c.logger.Warn("socket join failed", zap.Error(err), zap.String("viewer_id", c.ViewerID))
		return
	}
	c.hub.SendToClient(c.BroadcastID, c.ID, EventPresence, res)
}

func (c *Client) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWait)
	defer cancel()
	if _, err := c.presence.Leave(ctx, c.BroadcastID, c.ViewerID); err != nil {
		c.logger.Warn("socket leave failed", zap.Error(err), zap.String("viewer_id", c.ViewerID))
	}
}

// deliver queues msg without blocking. A full buffer drops ordinary messages; a final
// message that cannot be queued closes the connection directly.
func (c *Client) deliver(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		if msg.final && c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		close(c.done)
		if c.hub.Unregister(c) {
			c.leave()
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.join()
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventHeartbeat:
			c.join()
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.final {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Event))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
