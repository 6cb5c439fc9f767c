package effects

import (
	"fmt"
	"strings"
)

// Kind tags a player action.
type Kind string

const (
	KindDeploy       Kind = "Deploy"
	KindSettle       Kind = "Settle"
	KindPlayVillager Kind = "PlayVillager"
	KindCommitUnits  Kind = "CommitUnits"
	KindPass         Kind = "Pass"
	KindDraw         Kind = "Draw"
	KindShuffle      Kind = "Shuffle"
	KindMoveCard     Kind = "MoveCard"
	KindToggleExert  Kind = "ToggleExert"
	KindAdjustMorale Kind = "AdjustMorale"
)

var allKinds = []Kind{
	KindDeploy, KindSettle, KindPlayVillager, KindCommitUnits, KindPass,
	KindDraw, KindShuffle, KindMoveCard, KindToggleExert, KindAdjustMorale,
}

// ParseKind matches an action kind name case-insensitively.
func ParseKind(name string) (Kind, error) {
	name = strings.TrimSpace(name)
	for _, k := range allKinds {
		if strings.EqualFold(string(k), name) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action kind %q", name)
}

// ConsumesPriority reports whether a successful action of this kind hands
// priority to the opponent. Pass follows the two-pass rule instead.
func (k Kind) ConsumesPriority() bool {
	switch k {
	case KindDeploy, KindSettle, KindPlayVillager, KindCommitUnits, KindAdjustMorale:
		return true
	}
	return false
}

// OncePerRound reports whether a player may take this kind at most once per
// round.
func (k Kind) OncePerRound() bool {
	return k == KindPlayVillager
}
