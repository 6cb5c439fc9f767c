package hub

import (
	"encoding/json"
	"time"

	"github.com/empiretcg/empire-server-go/internal/game"
)

// Inbound message types.
const (
	TypeJoinMatch    = "join_match"
	TypeSubmitAction = "submit_action"
	TypeChat         = "chat"
)

// Outbound message types. Engine notifications keep their own names
// (match_started, state_changed, phase_changed, game_over).
const (
	TypeStateChanged = game.NotifyStateChanged
	TypePlayerJoined = "player_joined"
	TypeChatMessage  = "chat_message"
	TypeActionResult = "action_result"
	TypeError        = "error"
)

// Message is the JSON envelope exchanged over the websocket.
type Message struct {
	Type     string          `json:"type"`
	MatchID  string          `json:"match_id,omitempty"`
	PlayerID string          `json:"player_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type     string `json:"type"`
	MatchID  string `json:"match_id,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Data     any    `json:"data,omitempty"`
}

func encode(kind, matchID, playerID string, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: kind, MatchID: matchID, PlayerID: playerID, Data: data})
}

// ChatPayload is both the inbound chat body and the relayed chat message.
type ChatPayload struct {
	Text   string    `json:"text"`
	Name   string    `json:"name,omitempty"`
	SentAt time.Time `json:"sent_at,omitempty"`
}

// PlayerJoined announces a connection joining a match group.
type PlayerJoined struct {
	PlayerID string   `json:"player_id"`
	Name     string   `json:"name"`
	Members  []string `json:"members"`
}

// ErrorPayload reports a rejected request.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
