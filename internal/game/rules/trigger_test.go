package rules

import (
	"errors"
	"testing"
)

func TestTriggerManagerHandle(t *testing.T) {
	manager := NewTriggerManager()

	callCount := 0
	manager.Register(AbilityTrigger{
		EventType: EventCardDeployed,
		CardName:  "scout",
		Build: func(e Event) []TriggeredEffect {
			callCount++
			return []TriggeredEffect{{
				Type:        EffectDrawCard,
				Amount:      1,
				CardType:    "army",
				Description: "Scout draws a card",
			}}
		},
	})

	event := NewEvent(EventCardDeployed, "m1", "alice", "alice-army-01")
	event.Metadata["card_name"] = "scout"
	effects := manager.Handle(event)

	if len(effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(effects))
	}
	if effects[0].PlayerID != "alice" {
		t.Fatalf("expected player alice, got %s", effects[0].PlayerID)
	}
	if effects[0].SourceID != "alice-army-01" {
		t.Fatalf("expected source to default to the card, got %s", effects[0].SourceID)
	}
	if effects[0].ID == "" {
		t.Fatal("expected generated effect ID")
	}

	other := NewEvent(EventCardDeployed, "m1", "alice", "alice-army-02")
	other.Metadata["card_name"] = "militia"
	if got := manager.Handle(other); len(got) != 0 {
		t.Fatalf("expected no effects for a different card, got %d", len(got))
	}
	if callCount != 1 {
		t.Fatalf("expected build to be called once, got %d", callCount)
	}
}

func TestTriggerManagerOnce(t *testing.T) {
	manager := NewTriggerManager()
	manager.Register(AbilityTrigger{
		EventType: EventRoundStarted,
		Once:      true,
		Build: func(e Event) []TriggeredEffect {
			return []TriggeredEffect{{Type: EffectGainMorale, Amount: 1}}
		},
	})

	if got := manager.Handle(NewEvent(EventRoundStarted, "m1", "bob", "")); len(got) != 1 {
		t.Fatalf("expected 1 effect on first round, got %d", len(got))
	}
	if got := manager.Handle(NewEvent(EventRoundStarted, "m1", "bob", "")); len(got) != 0 {
		t.Fatalf("expected once trigger to be removed, got %d", len(got))
	}
}

func TestEffectQueueFIFO(t *testing.T) {
	q := NewEffectQueue()
	q.Push(TriggeredEffect{ID: "first"}, TriggeredEffect{ID: "second"})

	var order []string
	applied, err := q.Drain(0, func(e TriggeredEffect) error {
		order = append(order, e.ID)
		if e.ID == "first" {
			q.Push(TriggeredEffect{ID: "third"})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 3 {
		t.Fatalf("expected 3 applied, got %d", applied)
	}
	if order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("expected FIFO order, got %v", order)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
	if _, err := q.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestEffectQueueDrainLimit(t *testing.T) {
	q := NewEffectQueue()
	q.Push(TriggeredEffect{ID: "loop"})

	_, err := q.Drain(5, func(e TriggeredEffect) error {
		q.Push(e)
		return nil
	})
	if err == nil {
		t.Fatal("expected limit error for self-requeuing effect")
	}
}
