package effects

import (
	"strings"

	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/game/state"
)

// MetaCardName is the event metadata key carrying the lowercased card name
// that card hooks match on.
const MetaCardName = "card_name"

// RegisterDefaultHooks installs the named-card hooks shipped with the
// server. Card text beyond these is not modelled.
func RegisterDefaultHooks(tm *rules.TriggerManager) {
	tm.Register(rules.AbilityTrigger{
		ID:        "hook-militia",
		CardName:  "militia",
		EventType: rules.EventCardDeployed,
		Build: func(rules.Event) []rules.TriggeredEffect {
			return []rules.TriggeredEffect{{
				Type:        rules.EffectGainMorale,
				Amount:      1,
				Description: "Gained 1 morale from Militia",
			}}
		},
	})
	tm.Register(rules.AbilityTrigger{
		ID:        "hook-scout",
		CardName:  "scout",
		EventType: rules.EventCardDeployed,
		Build: func(rules.Event) []rules.TriggeredEffect {
			return []rules.TriggeredEffect{{
				Type:        rules.EffectDrawCard,
				Amount:      1,
				CardType:    string(state.KindArmy),
				Description: "Scout allows drawing an extra army card",
			}}
		},
	})
	tm.Register(rules.AbilityTrigger{
		ID:        "hook-fortress",
		CardName:  "fortress",
		EventType: rules.EventCardSettled,
		Build: func(e rules.Event) []rules.TriggeredEffect {
			return []rules.TriggeredEffect{{
				Type:        rules.EffectModifyStats,
				Description: "Fortress provides defensive bonus to " + e.Data,
			}}
		},
	})
	tm.Register(rules.AbilityTrigger{
		ID:        "hook-market",
		CardName:  "market",
		EventType: rules.EventCardSettled,
		Build: func(rules.Event) []rules.TriggeredEffect {
			return []rules.TriggeredEffect{{
				Type:        rules.EffectDrawCard,
				Amount:      1,
				CardType:    string(state.KindCivic),
				Description: "Market allows drawing an extra civic card",
			}}
		},
	})
	tm.Register(rules.AbilityTrigger{
		ID:        "hook-blacksmith",
		CardName:  "blacksmith",
		EventType: rules.EventVillagerPlayed,
		Build: func(rules.Event) []rules.TriggeredEffect {
			return []rules.TriggeredEffect{{
				Type:        rules.EffectModifyStats,
				Description: "Blacksmith reduces army card deployment costs",
			}}
		},
	})
}

func cardEvent(eventType rules.EventType, match *state.MatchState, playerID string, card state.CardInstance) rules.Event {
	evt := rules.NewEvent(eventType, match.ID, playerID, card.ID)
	evt.Metadata[MetaCardName] = strings.ToLower(card.Name)
	return evt
}
