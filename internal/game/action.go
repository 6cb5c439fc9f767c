package game

import (
	"github.com/empiretcg/empire-server-go/internal/game/effects"
	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/game/state"
)

// Action is a request to change a match. Only the fields relevant to Kind
// are read.
type Action struct {
	Kind           effects.Kind   `json:"kind"`
	CardID         string         `json:"card_id,omitempty"`
	CardIDs        []string       `json:"card_ids,omitempty"`
	TerritoryID    string         `json:"territory_id,omitempty"`
	From           string         `json:"from,omitempty"`
	To             string         `json:"to,omitempty"`
	DeckKind       state.CardKind `json:"deck_kind,omitempty"`
	Value          *int           `json:"value,omitempty"`
	TargetPlayerID string         `json:"target_player_id,omitempty"`

	// ExpectedRound and ExpectedPhase, when set, reject the action with a
	// concurrency error if the match has moved on.
	ExpectedRound *int   `json:"expected_round,omitempty"`
	ExpectedPhase string `json:"expected_phase,omitempty"`
}

func (a Action) target() string {
	switch {
	case a.TerritoryID != "":
		return a.TerritoryID
	case a.To != "":
		return a.To
	case a.TargetPlayerID != "":
		return a.TargetPlayerID
	case a.DeckKind != "":
		return string(a.DeckKind)
	}
	return ""
}

// Result describes a committed action.
type Result struct {
	Move           state.GameMove          `json:"move"`
	Effects        []string                `json:"effects,omitempty"`
	Triggered      []rules.TriggeredEffect `json:"triggered,omitempty"`
	Drawn          []state.CardInstance    `json:"drawn,omitempty"`
	Round          int                     `json:"round"`
	Phase          rules.Phase             `json:"phase"`
	PriorityPlayer string                  `json:"priority_player"`
	PhaseChanged   bool                    `json:"phase_changed"`
	GameOver       bool                    `json:"game_over"`
	Winner         string                  `json:"winner,omitempty"`
	Version        int64                   `json:"version"`
	Checksum       string                  `json:"checksum"`
}
