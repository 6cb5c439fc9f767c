package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/empiretcg/empire-server-go/internal/game/rules"
)

// Defaults for a fresh match.
const (
	DefaultMorale = 25
	DefaultTier   = 1
	MaxTier       = 3
)

// GameMove is one entry of the append-only move log.
type GameMove struct {
	Seq       int         `json:"seq"`
	PlayerID  string      `json:"player_id"`
	MoveType  string      `json:"move_type"`
	CardID    string      `json:"card_id,omitempty"`
	Value     *int        `json:"value,omitempty"`
	Target    string      `json:"target,omitempty"`
	Round     int         `json:"round"`
	Phase     rules.Phase `json:"phase"`
	Timestamp time.Time   `json:"timestamp"`
}

// MatchState is the authoritative state of one match.
type MatchState struct {
	ID string `json:"id"`
	rules.TurnState

	Zones              map[string]*ZoneSet       `json:"zones"`
	Morale             map[string]int            `json:"morale"`
	Tier               map[string]int            `json:"tier"`
	TerritoryOccupants map[string]string         `json:"territory_occupants"`
	RoundActions       map[string]map[string]int `json:"round_actions"`
	Cards              map[string]CardInstance   `json:"cards"`
	Moves              []GameMove                `json:"moves"`
	Version            int64                     `json:"version"`
	Winner             string                    `json:"winner,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// NewMatchState creates round 1 of a match between two players with empty
// zones. startingMorale values of zero or less fall back to DefaultMorale.
func NewMatchState(id, player1, player2 string, startingMorale int, now time.Time) *MatchState {
	if startingMorale <= 0 {
		startingMorale = DefaultMorale
	}
	ms := &MatchState{
		ID:                 id,
		TurnState:          rules.NewTurnState(player1, player2),
		Zones:              map[string]*ZoneSet{player1: NewZoneSet(), player2: NewZoneSet()},
		Morale:             map[string]int{player1: startingMorale, player2: startingMorale},
		Tier:               map[string]int{player1: DefaultTier, player2: DefaultTier},
		TerritoryOccupants: make(map[string]string, TerritoryCount),
		RoundActions:       make(map[string]map[string]int),
		Cards:              make(map[string]CardInstance),
		Moves:              []GameMove{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, id := range TerritoryIDs() {
		ms.TerritoryOccupants[id] = ""
	}
	return ms
}

// ZoneSet returns the zones of playerID.
func (ms *MatchState) ZoneSet(playerID string) (*ZoneSet, error) {
	zs, ok := ms.Zones[playerID]
	if !ok {
		return nil, fmt.Errorf("player %s is not in match %s", playerID, ms.ID)
	}
	return zs, nil
}

// Card returns the instance with the given id.
func (ms *MatchState) Card(cardID string) (CardInstance, bool) {
	card, ok := ms.Cards[cardID]
	return card, ok
}

// IsOver reports whether some player's morale reached zero.
func (ms *MatchState) IsOver() bool {
	return ms.Winner != ""
}

// AdjustMorale applies delta to playerID's morale, clamped at zero. When a
// player reaches zero the opponent is recorded as winner.
func (ms *MatchState) AdjustMorale(playerID string, delta int) (int, error) {
	current, ok := ms.Morale[playerID]
	if !ok {
		return 0, fmt.Errorf("player %s is not in match %s", playerID, ms.ID)
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	ms.Morale[playerID] = next
	if next == 0 && ms.Winner == "" {
		ms.Winner = ms.Opponent(playerID)
	}
	return next, nil
}

// RecomputeTier sets playerID's tier from their settlement count:
// min(MaxTier, 1 + settlements/2).
func (ms *MatchState) RecomputeTier(playerID string) int {
	zs, ok := ms.Zones[playerID]
	if !ok {
		return 0
	}
	tier := DefaultTier + zs.SettlementCount()/2
	if tier > MaxTier {
		tier = MaxTier
	}
	ms.Tier[playerID] = tier
	return tier
}

// RecomputeOccupant updates the occupant of territory after units moved.
// A player with units in the occupying list holds it; when both do, the
// current occupant keeps it; when neither does, it becomes unoccupied.
func (ms *MatchState) RecomputeOccupant(territory string) string {
	current := ms.TerritoryOccupants[territory]
	var holders []string
	for _, player := range ms.Players {
		zs := ms.Zones[player]
		if zs == nil {
			continue
		}
		if t := zs.Territories[territory]; t != nil && len(t.Occupying) > 0 {
			holders = append(holders, player)
		}
	}
	switch len(holders) {
	case 0:
		current = ""
	case 1:
		current = holders[0]
	default:
		if current == "" {
			current = holders[0]
		}
	}
	ms.TerritoryOccupants[territory] = current
	return current
}

// AppendMove records a move at the current round and phase.
func (ms *MatchState) AppendMove(move GameMove) GameMove {
	move.Seq = len(ms.Moves) + 1
	move.Round = ms.Round
	move.Phase = ms.Phase
	ms.Moves = append(ms.Moves, move)
	return move
}

// Locate finds which player's zone holds cardID.
func (ms *MatchState) Locate(cardID string) (string, ZoneRef, bool) {
	for _, player := range ms.Players {
		if zs := ms.Zones[player]; zs != nil {
			if ref, ok := zs.Locate(cardID); ok {
				return player, ref, true
			}
		}
	}
	return "", ZoneRef{}, false
}

// CheckInvariants verifies that every card id appears in exactly one zone
// across both players, morale is non-negative and priority is held by a
// seated player.
func (ms *MatchState) CheckInvariants() error {
	seen := make(map[string]string)
	players := make([]string, 0, len(ms.Zones))
	for player := range ms.Zones {
		players = append(players, player)
	}
	sort.Strings(players)
	for _, player := range players {
		zs := ms.Zones[player]
		for _, ref := range zs.Refs() {
			for _, id := range zs.Cards(ref) {
				where := player + "/" + ref.String()
				if prev, dup := seen[id]; dup {
					return fmt.Errorf("card %s in both %s and %s", id, prev, where)
				}
				seen[id] = where
			}
		}
	}
	for player, morale := range ms.Morale {
		if morale < 0 {
			return fmt.Errorf("player %s has negative morale %d", player, morale)
		}
	}
	if !ms.IsPlayer(ms.PriorityPlayer) {
		return fmt.Errorf("priority player %q is not seated", ms.PriorityPlayer)
	}
	return nil
}

// Clone returns a deep copy suitable for speculative mutation.
func (ms *MatchState) Clone() *MatchState {
	cp := *ms
	cp.Zones = make(map[string]*ZoneSet, len(ms.Zones))
	for player, zs := range ms.Zones {
		cp.Zones[player] = zs.Clone()
	}
	cp.Morale = cloneIntMap(ms.Morale)
	cp.Tier = cloneIntMap(ms.Tier)
	cp.TerritoryOccupants = make(map[string]string, len(ms.TerritoryOccupants))
	for k, v := range ms.TerritoryOccupants {
		cp.TerritoryOccupants[k] = v
	}
	cp.RoundActions = make(map[string]map[string]int, len(ms.RoundActions))
	for player, actions := range ms.RoundActions {
		cp.RoundActions[player] = cloneIntMap(actions)
	}
	cp.Cards = make(map[string]CardInstance, len(ms.Cards))
	for id, card := range ms.Cards {
		cp.Cards[id] = card
	}
	cp.Moves = make([]GameMove, len(ms.Moves))
	for i, move := range ms.Moves {
		if move.Value != nil {
			v := *move.Value
			move.Value = &v
		}
		cp.Moves[i] = move
	}
	return &cp
}

func cloneIntMap(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
