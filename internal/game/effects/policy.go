package effects

import (
	"fmt"
	"strings"

	"github.com/empiretcg/empire-server-go/internal/game/state"
)

// CostPolicy decides whether a player can pay for a card and pays it.
//
// There is no resource pool yet, so the default policy treats every cost as
// affordable and paying as a no-op. Deploy still computes the cost so a real
// policy only has to implement accounting.
type CostPolicy interface {
	CanAfford(match *state.MatchState, playerID string, cost int) bool
	Pay(match *state.MatchState, playerID string, cost int) error
}

// AlwaysAffordable is the default CostPolicy.
type AlwaysAffordable struct{}

func (AlwaysAffordable) CanAfford(*state.MatchState, string, int) bool { return true }

func (AlwaysAffordable) Pay(*state.MatchState, string, int) error { return nil }

// EmptyDeckPolicy selects what happens when a player draws from an empty
// deck.
type EmptyDeckPolicy string

const (
	// EmptyDeckIgnore makes the draw a no-op.
	EmptyDeckIgnore EmptyDeckPolicy = "ignore"
	// EmptyDeckLose drops the drawing player's morale to zero.
	EmptyDeckLose EmptyDeckPolicy = "lose"
)

// ParseEmptyDeckPolicy accepts "ignore" and "lose". An empty name selects
// EmptyDeckIgnore.
func ParseEmptyDeckPolicy(name string) (EmptyDeckPolicy, error) {
	switch EmptyDeckPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", EmptyDeckIgnore:
		return EmptyDeckIgnore, nil
	case EmptyDeckLose:
		return EmptyDeckLose, nil
	}
	return "", fmt.Errorf("unknown empty deck policy %q", name)
}

// DeployCost returns the cost of deploying card for a player at tier, and
// whether the deploy is legal at all. A card one tier above the player pays
// its tier as a surcharge; anything higher cannot be deployed.
func DeployCost(card state.CardInstance, playerTier int) (int, bool) {
	switch {
	case card.Tier > playerTier+1:
		return 0, false
	case card.Tier == playerTier+1:
		return card.Cost + card.Tier, true
	default:
		return card.Cost, true
	}
}
