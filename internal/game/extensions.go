package game

import (
	"context"
	"fmt"

	"github.com/empiretcg/empire-server-go/internal/config"
	"github.com/empiretcg/empire-server-go/internal/game/effects"
	"github.com/empiretcg/empire-server-go/internal/game/state"
)

// CombatResolver settles a territory when the Battle phase begins. It may
// mutate ms and returns log lines describing what happened.
type CombatResolver interface {
	ProcessTerritoryCombat(ctx context.Context, ms *state.MatchState, territoryID string) ([]string, error)
}

// NoCombat is the default CombatResolver. Combat rules are not defined
// yet: advancing units stay where they are and nothing is resolved.
type NoCombat struct{}

func (NoCombat) ProcessTerritoryCombat(context.Context, *state.MatchState, string) ([]string, error) {
	return nil, nil
}

// ReplenishmentRule decides how many cards each player draws when the
// Replenishment phase begins.
type ReplenishmentRule interface {
	Replenish(ms *state.MatchState, playerID string) (army, civic int)
}

// FixedReplenishment draws the same number of cards for every player.
type FixedReplenishment struct {
	Army  int
	Civic int
}

func (r FixedReplenishment) Replenish(*state.MatchState, string) (int, int) {
	return r.Army, r.Civic
}

// Config holds the configurable match rules.
type Config struct {
	OpeningArmyHand  int
	OpeningCivicHand int
	StartingMorale   int
	StartingTier     int
	Replenish        FixedReplenishment
	EmptyDeckPolicy  effects.EmptyDeckPolicy
	// ShuffleSeed makes shuffles reproducible; zero seeds from the clock.
	ShuffleSeed int64
	// MaxTriggeredEffects bounds the effects one action may cause.
	MaxTriggeredEffects int
}

// DefaultConfig returns the standard rules.
func DefaultConfig() Config {
	return Config{
		OpeningArmyHand:     4,
		OpeningCivicHand:    3,
		StartingMorale:      state.DefaultMorale,
		StartingTier:        state.DefaultTier,
		Replenish:           FixedReplenishment{Army: 1},
		EmptyDeckPolicy:     effects.EmptyDeckIgnore,
		MaxTriggeredEffects: 64,
	}
}

// ConfigFromSettings converts the loaded game settings.
func ConfigFromSettings(gc config.GameConfig) (Config, error) {
	cfg := DefaultConfig()
	policy, err := effects.ParseEmptyDeckPolicy(gc.EmptyDeckPolicy)
	if err != nil {
		return cfg, err
	}
	if gc.OpeningArmyHand < 0 || gc.OpeningCivicHand < 0 {
		return cfg, fmt.Errorf("opening hand sizes must not be negative")
	}
	cfg.OpeningArmyHand = gc.OpeningArmyHand
	cfg.OpeningCivicHand = gc.OpeningCivicHand
	if gc.StartingMorale > 0 {
		cfg.StartingMorale = gc.StartingMorale
	}
	if gc.StartingTier > 0 {
		cfg.StartingTier = gc.StartingTier
	}
	cfg.Replenish = FixedReplenishment{Army: gc.ReplenishArmy, Civic: gc.ReplenishCivic}
	cfg.EmptyDeckPolicy = policy
	cfg.ShuffleSeed = gc.ShuffleSeed
	return cfg, nil
}
