package rules

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// EffectType enumerates the follow-up effects a card can queue.
type EffectType string

const (
	EffectDrawCard       EffectType = "DrawCard"
	EffectGainMorale     EffectType = "GainMorale"
	EffectLoseMorale     EffectType = "LoseMorale"
	EffectModifyStats    EffectType = "ModifyStats"
	EffectTriggerAbility EffectType = "TriggerAbility"
)

// TriggeredEffect is a follow-up effect queued by a card hook and applied
// in order by the engine after the triggering action.
type TriggeredEffect struct {
	ID          string     `json:"id"`
	Type        EffectType `json:"type"`
	PlayerID    string     `json:"player_id"`
	SourceID    string     `json:"source_id,omitempty"`
	Amount      int        `json:"amount,omitempty"`
	CardType    string     `json:"card_type,omitempty"` // deck kind for DrawCard
	Description string     `json:"description"`
}

// AbilityTrigger reacts to a specific event and produces triggered effects
// when its conditions are satisfied.
type AbilityTrigger struct {
	ID        string
	CardName  string // matched against Event.Metadata["card_name"] when set
	EventType EventType
	Condition func(Event) bool
	Build     func(Event) []TriggeredEffect
	Once      bool
}

// TriggerManager stores and evaluates ability triggers against events.
type TriggerManager struct {
	mu       sync.Mutex
	triggers map[string]AbilityTrigger
}

// NewTriggerManager creates an empty trigger manager.
func NewTriggerManager() *TriggerManager {
	return &TriggerManager{
		triggers: make(map[string]AbilityTrigger),
	}
}

// Register adds a new trigger to the manager.
func (tm *TriggerManager) Register(trigger AbilityTrigger) string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}
	tm.triggers[trigger.ID] = trigger
	return trigger.ID
}

// Unregister removes a trigger by ID.
func (tm *TriggerManager) Unregister(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.triggers, id)
}

// Handle evaluates the event against all registered triggers and returns
// the effects they produce, ordered by trigger ID so results are stable.
func (tm *TriggerManager) Handle(event Event) []TriggeredEffect {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if len(tm.triggers) == 0 {
		return nil
	}

	ids := make([]string, 0, len(tm.triggers))
	for id := range tm.triggers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var effects []TriggeredEffect
	for _, id := range ids {
		trigger := tm.triggers[id]
		if trigger.EventType != event.Type {
			continue
		}
		if trigger.CardName != "" && event.Metadata["card_name"] != trigger.CardName {
			continue
		}
		if trigger.Condition != nil && !trigger.Condition(event) {
			continue
		}
		if trigger.Build == nil {
			continue
		}

		for _, effect := range trigger.Build(event) {
			if effect.ID == "" {
				effect.ID = uuid.NewString()
			}
			if effect.PlayerID == "" {
				effect.PlayerID = event.PlayerID
			}
			if effect.SourceID == "" {
				effect.SourceID = event.CardID
			}
			effects = append(effects, effect)
		}

		if trigger.Once {
			delete(tm.triggers, id)
		}
	}

	return effects
}
