package game

import (
	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/game/state"
)

// Notification kinds emitted by the engine. The sync hub forwards them to
// the match group under the same names.
const (
	NotifyMatchStarted = "match_started"
	NotifyStateChanged = "state_changed"
	NotifyPhaseChanged = "phase_changed"
	NotifyGameOver     = "game_over"
)

// Notifier receives match-level notifications. Implementations must not
// block. The engine calls Broadcast after releasing the match lock, one
// committed version at a time: notifications of a match arrive in version
// order, and within one action state_changed comes first.
type Notifier interface {
	Broadcast(matchID, kind string, payload any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(matchID, kind string, payload any)

func (f NotifierFunc) Broadcast(matchID, kind string, payload any) { f(matchID, kind, payload) }

// MultiNotifier fans a notification out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Broadcast(matchID, kind string, payload any) {
	for _, n := range m {
		if n != nil {
			n.Broadcast(matchID, kind, payload)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, string, any) {}

// MatchStarted is the payload of NotifyMatchStarted.
type MatchStarted struct {
	MatchID          string    `json:"match_id"`
	Players          [2]string `json:"players"`
	InitiativeHolder string    `json:"initiative_holder"`
	Round            int       `json:"round"`
	Phase            string    `json:"phase"`
}

// StateChanged is the payload of NotifyStateChanged, sent after every
// committed action whatever transport submitted it. PlayerID is the actor.
// Clients compare Checksum with their own view.
type StateChanged struct {
	MatchID        string         `json:"match_id"`
	PlayerID       string         `json:"player_id"`
	Version        int64          `json:"version"`
	Checksum       string         `json:"checksum"`
	Round          int            `json:"round"`
	Phase          string         `json:"phase"`
	PriorityPlayer string         `json:"priority_player"`
	Move           state.GameMove `json:"move"`
	Effects        []string       `json:"effects,omitempty"`
}

// PhaseChanged is the payload of NotifyPhaseChanged.
type PhaseChanged struct {
	Phase          string `json:"phase"`
	Round          int    `json:"round"`
	ActivePlayerID string `json:"active_player_id"`
}

// GameOver is the payload of NotifyGameOver.
type GameOver struct {
	MatchID string `json:"match_id"`
	Winner  string `json:"winner"`
	Loser   string `json:"loser"`
	Round   int    `json:"round"`
}

type notification struct {
	kind    string
	payload any
}

func phaseChanged(phase rules.Phase, round int, active string) notification {
	return notification{kind: NotifyPhaseChanged, payload: PhaseChanged{
		Phase:          phase.String(),
		Round:          round,
		ActivePlayerID: active,
	}}
}
