// Package hub fans match notifications out to websocket connections and
// forwards the actions they submit to the game engine.
package hub

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/auth"
	"github.com/empiretcg/empire-server-go/internal/config"
	"github.com/empiretcg/empire-server-go/internal/game"
	"go.uber.org/zap"
)

// ActionSubmitter applies a player's action to a match.
type ActionSubmitter interface {
	SubmitAction(ctx context.Context, matchID, playerID string, action game.Action) (*game.Result, error)
}

// Relay carries broadcasts to hub instances on other nodes.
type Relay interface {
	Publish(matchID string, data []byte) error
}

// Options tune the websocket transport.
type Options struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	SendBufferSize  int
	MaxMessageBytes int64
	AllowedOrigins  []string
	ActionTimeout   time.Duration
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		SendBufferSize:  256,
		MaxMessageBytes: 64 * 1024,
		ActionTimeout:   10 * time.Second,
	}
}

// OptionsFromConfig converts the loaded websocket settings.
func OptionsFromConfig(c config.WebSocketConfig) Options {
	o := DefaultOptions()
	if c.WriteTimeout > 0 {
		o.WriteTimeout = c.WriteTimeout
	}
	if c.PongTimeout > 0 {
		o.PongTimeout = c.PongTimeout
	}
	if c.SendBufferSize > 0 {
		o.SendBufferSize = c.SendBufferSize
	}
	if c.MaxMessageBytes > 0 {
		o.MaxMessageBytes = c.MaxMessageBytes
	}
	o.AllowedOrigins = c.AllowedOrigins
	return o
}

// Hub groups connections by match id. It holds no game state.
type Hub struct {
	logger    *zap.Logger
	submitter ActionSubmitter
	verifier  auth.Verifier
	opts      Options
	clock     func() time.Time

	mu      sync.RWMutex
	groups  map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	relay   Relay
}

// New creates a hub.
func New(logger *zap.Logger, submitter ActionSubmitter, verifier auth.Verifier, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:    logger,
		submitter: submitter,
		verifier:  verifier,
		opts:      opts,
		clock:     time.Now,
		groups:    make(map[string]map[*Client]struct{}),
		clients:   make(map[*Client]struct{}),
	}
}

// SetRelay attaches a cross-node relay. Broadcasts are published to it
// after local delivery.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Join moves c into the group of matchID, leaving any previous group.
func (h *Hub) Join(c *Client, matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
	group, ok := h.groups[matchID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[matchID] = group
	}
	group[c] = struct{}{}
	c.matchID = matchID
}

// Leave drops c from its group.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) {
	if c.matchID == "" {
		return
	}
	if group, ok := h.groups[c.matchID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, c.matchID)
		}
	}
	c.matchID = ""
}

// unregister removes c entirely and closes its send queue.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	h.leaveLocked(c)
	_, known := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if known {
		c.close()
		h.logger.Debug("client disconnected",
			zap.String("client_id", c.id),
			zap.String("user_id", c.identity.UserID))
	}
}

// Members returns the user ids connected to matchID, sorted, one entry per
// connection.
func (h *Hub) Members(matchID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups[matchID]))
	for c := range h.groups[matchID] {
		out = append(out, c.identity.UserID)
	}
	sort.Strings(out)
	return out
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver queues data for every local member of matchID except the
// connections of skipUser. Clients whose queue is full are dropped.
func (h *Hub) deliver(matchID string, data []byte, skipUser string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.groups[matchID]))
	for c := range h.groups[matchID] {
		if skipUser == "" || c.identity.UserID != skipUser {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.queue(data) {
			h.logger.Warn("client send buffer full, dropping connection",
				zap.String("client_id", c.id),
				zap.String("match_id", matchID))
			h.unregister(c)
		}
	}
}

// publish delivers locally and relays to other nodes.
func (h *Hub) publish(matchID string, data []byte, skipUser string) {
	h.deliver(matchID, data, skipUser)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(matchID, data); err != nil {
		h.logger.Warn("relay publish failed", zap.String("match_id", matchID), zap.Error(err))
	}
}

// DeliverRemote hands a message relayed from another node to the local
// members of matchID. A relayed state_changed skips the actor here too.
func (h *Hub) DeliverRemote(matchID string, data []byte) {
	var header Message
	if err := json.Unmarshal(data, &header); err != nil {
		h.logger.Warn("dropping malformed relayed message", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	skip := ""
	if header.Type == TypeStateChanged {
		skip = header.PlayerID
	}
	h.deliver(matchID, data, skip)
}

// Broadcast implements game.Notifier. A state_changed goes to every member
// except the acting player, who learns the outcome from the action reply.
func (h *Hub) Broadcast(matchID, kind string, payload any) {
	actor := ""
	if sc, ok := payload.(game.StateChanged); ok {
		actor = sc.PlayerID
	}
	data, err := encode(kind, matchID, actor, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("kind", kind), zap.Error(err))
		return
	}
	h.publish(matchID, data, actor)
}

func (h *Hub) sendError(c *Client, err error) {
	data, encErr := encode(TypeError, c.currentMatch(h), "", ErrorPayload{
		Kind:    apperrors.KindOf(err).String(),
		Message: apperrors.Message(err),
	})
	if encErr != nil {
		return
	}
	c.queue(data)
}

func (h *Hub) handleMessage(c *Client, msg Message) {
	switch msg.Type {
	case TypeJoinMatch:
		h.handleJoin(c, msg.MatchID)

	case TypeSubmitAction:
		h.handleAction(c, msg)

	case TypeChat:
		h.handleChat(c, msg)

	default:
		h.sendError(c, apperrors.Validation("hub", "unknown message type %q", msg.Type))
	}
}

func (h *Hub) handleJoin(c *Client, matchID string) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		h.sendError(c, apperrors.Validation("join_match", "match_id is required"))
		return
	}
	h.Join(c, matchID)
	h.logger.Info("client joined match group",
		zap.String("client_id", c.id),
		zap.String("match_id", matchID),
		zap.String("user_id", c.identity.UserID))

	data, err := encode(TypePlayerJoined, matchID, c.identity.UserID, PlayerJoined{
		PlayerID: c.identity.UserID,
		Name:     c.identity.Name,
		Members:  h.Members(matchID),
	})
	if err != nil {
		return
	}
	h.publish(matchID, data, "")
}

func (h *Hub) handleAction(c *Client, msg Message) {
	matchID := c.currentMatch(h)
	if matchID == "" {
		h.sendError(c, apperrors.Validation("submit_action", "join a match first"))
		return
	}
	var action game.Action
	if err := json.Unmarshal(msg.Data, &action); err != nil {
		h.sendError(c, apperrors.Validation("submit_action", "malformed action: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ActionTimeout)
	defer cancel()
	res, err := h.submitter.SubmitAction(ctx, matchID, c.identity.UserID, action)
	if err != nil {
		h.sendError(c, err)
		return
	}

	// The rest of the group hears about it through Broadcast.
	data, err := encode(TypeActionResult, matchID, c.identity.UserID, res)
	if err != nil {
		h.logger.Error("encode action result", zap.Error(err))
		return
	}
	c.queue(data)
}

func (h *Hub) handleChat(c *Client, msg Message) {
	matchID := c.currentMatch(h)
	if matchID == "" {
		h.sendError(c, apperrors.Validation("chat", "join a match first"))
		return
	}
	var chat ChatPayload
	if err := json.Unmarshal(msg.Data, &chat); err != nil || strings.TrimSpace(chat.Text) == "" {
		h.sendError(c, apperrors.Validation("chat", "chat text is required"))
		return
	}
	data, err := encode(TypeChatMessage, matchID, c.identity.UserID, ChatPayload{
		Text:   chat.Text,
		Name:   c.identity.Name,
		SentAt: h.clock(),
	})
	if err != nil {
		return
	}
	h.publish(matchID, data, "")
}
