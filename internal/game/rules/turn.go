package rules

import (
	"fmt"
	"strings"
)

// Phase represents the phases of a round.
type Phase int

const (
	PhaseStrategy Phase = iota
	PhaseBattle
	PhaseReplenishment
)

var phaseNames = map[Phase]string{
	PhaseStrategy:      "STRATEGY",
	PhaseBattle:        "BATTLE",
	PhaseReplenishment: "REPLENISHMENT",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE_%d", int(p))
}

// ParsePhase converts a phase name back to a Phase.
func ParsePhase(name string) (Phase, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for phase, n := range phaseNames {
		if n == upper {
			return phase, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// phaseSequence is the fixed order of phases within a round.
var phaseSequence = []Phase{PhaseStrategy, PhaseBattle, PhaseReplenishment}

// Next returns the phase that follows p and whether the round wraps.
func (p Phase) Next() (Phase, bool) {
	for i, phase := range phaseSequence {
		if phase == p {
			if i == len(phaseSequence)-1 {
				return phaseSequence[0], true
			}
			return phaseSequence[i+1], false
		}
	}
	return PhaseStrategy, false
}

// TurnState tracks round, phase, initiative and priority for a two-player
// match. It is a plain value so it can be embedded in persisted state.
type TurnState struct {
	Players          [2]string `json:"players"`
	Phase            Phase     `json:"phase"`
	Round            int       `json:"round"`
	InitiativeHolder string    `json:"initiative_holder"`
	PriorityPlayer   string    `json:"priority_player"`
	LastPlayerToPass string    `json:"last_player_to_pass,omitempty"`
}

// NewTurnState starts round 1 in the Strategy phase with first holding
// initiative and priority.
func NewTurnState(first, second string) TurnState {
	first = strings.TrimSpace(first)
	return TurnState{
		Players:          [2]string{first, strings.TrimSpace(second)},
		Phase:            PhaseStrategy,
		Round:            1,
		InitiativeHolder: first,
		PriorityPlayer:   first,
	}
}

// IsPlayer reports whether id is one of the two seated players.
func (ts *TurnState) IsPlayer(id string) bool {
	return id != "" && (ts.Players[0] == id || ts.Players[1] == id)
}

// Opponent returns the other seated player, or "" if id is not seated.
func (ts *TurnState) Opponent(id string) string {
	switch id {
	case ts.Players[0]:
		return ts.Players[1]
	case ts.Players[1]:
		return ts.Players[0]
	default:
		return ""
	}
}

// HasPriority reports whether id may act right now.
func (ts *TurnState) HasPriority(id string) bool {
	return id != "" && ts.PriorityPlayer == id
}

// PassResult describes what a pass did.
type PassResult struct {
	Advanced     bool
	PrevPhase    Phase
	Phase        Phase
	RoundWrapped bool
}

// Pass applies the two-pass rule for player. If the opponent passed last,
// the phase advances; otherwise priority moves to the opponent.
func (ts *TurnState) Pass(player string) PassResult {
	result := PassResult{PrevPhase: ts.Phase, Phase: ts.Phase}
	opponent := ts.Opponent(player)
	if ts.LastPlayerToPass != "" && ts.LastPlayerToPass == opponent {
		result.Phase, result.RoundWrapped = ts.AdvancePhase()
		result.Advanced = true
		return result
	}
	ts.LastPlayerToPass = player
	ts.PriorityPlayer = opponent
	return result
}

// RecordAction clears the pass chain after a non-pass action and, when
// transfer is set, hands priority to the opponent.
func (ts *TurnState) RecordAction(player string, transfer bool) {
	ts.LastPlayerToPass = ""
	if transfer {
		ts.PriorityPlayer = ts.Opponent(player)
	}
}

// AdvancePhase moves to the next phase. Initiative goes to whichever player
// did not hold it, and that player receives priority. The round counter
// increments when Replenishment wraps to Strategy.
func (ts *TurnState) AdvancePhase() (Phase, bool) {
	next, wrapped := ts.Phase.Next()
	ts.Phase = next
	if wrapped {
		ts.Round++
	}
	ts.InitiativeHolder = ts.Opponent(ts.InitiativeHolder)
	ts.PriorityPlayer = ts.InitiativeHolder
	ts.LastPlayerToPass = ""
	return next, wrapped
}
