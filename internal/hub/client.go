package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one websocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	identity auth.Identity

	// guarded by Hub.mu
	matchID string

	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Identity returns the authenticated user.
func (c *Client) Identity() auth.Identity { return c.identity }

func (c *Client) currentMatch(h *Hub) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.matchID
}

// queue reports false when the send buffer is full.
func (c *Client) queue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(c, apperrors.Validation("hub", "malformed message"))
			continue
		}
		h.handleMessage(c, msg)
	}
}

func (h *Hub) writePump(c *Client) {
	ping := time.NewTicker(h.opts.PongTimeout * 9 / 10)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) authenticate(r *http.Request) (auth.Identity, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		// Browsers cannot set headers on a websocket handshake.
		token = r.URL.Query().Get("token")
	}
	return h.verifier.Verify(r.Context(), token)
}

// ServeWS authenticates the caller, upgrades the connection and starts its
// pumps. A match_id query parameter joins that match group immediately.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, apperrors.Message(err), http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, h.opts.SendBufferSize),
	}
	h.register(c)
	h.logger.Debug("client connected",
		zap.String("client_id", c.id),
		zap.String("user_id", identity.UserID))

	go h.writePump(c)
	if matchID := r.URL.Query().Get("match_id"); matchID != "" {
		h.handleJoin(c, matchID)
	}
	go h.readPump(c)
}
