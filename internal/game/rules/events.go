package rules

import (
	"sync"
	"time"
)

// EventType indicates the category of a rules event.
type EventType string

const (
	// Match lifecycle
	EventMatchStarted EventType = "MATCH_STARTED"
	EventGameOver     EventType = "GAME_OVER"

	// Turn structure
	EventPriorityPassed EventType = "PRIORITY_PASSED"
	EventPhaseChanged   EventType = "PHASE_CHANGED"
	EventRoundStarted   EventType = "ROUND_STARTED"

	// Card movement
	EventCardDeployed   EventType = "CARD_DEPLOYED"
	EventCardSettled    EventType = "CARD_SETTLED"
	EventVillagerPlayed EventType = "VILLAGER_PLAYED"
	EventUnitsCommitted EventType = "UNITS_COMMITTED"
	EventCardDrawn      EventType = "CARD_DRAWN"
	EventCardMoved      EventType = "CARD_MOVED"
	EventCardExerted    EventType = "CARD_EXERTED"
	EventCardUnexerted  EventType = "CARD_UNEXERTED"
	EventDeckShuffled   EventType = "DECK_SHUFFLED"

	// Player resources
	EventMoraleChanged EventType = "MORALE_CHANGED"
	EventTierChanged   EventType = "TIER_CHANGED"
)

// Event represents a state change that other subsystems may react to.
type Event struct {
	Type      EventType
	MatchID   string
	PlayerID  string // acting or affected player
	CardID    string // card instance, when relevant
	Action    string // action kind that produced the event
	Amount    int
	Data      string
	Timestamp time.Time
	Metadata  map[string]string
}

// Listener defines a callback that reacts to incoming events.
type Listener func(Event)

// TypedListener defines a callback that reacts to a specific event type.
type TypedListener struct {
	Handle    int
	EventType EventType
	Callback  func(Event)
}

// EventBus provides a synchronous publish/subscribe implementation with type filtering.
type EventBus struct {
	mu             sync.RWMutex
	listeners      map[int]Listener
	typedListeners map[EventType][]TypedListener
	nextHandle     int
}

// NewEventBus constructs a fresh event bus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]TypedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for a specific event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], TypedListener{
		Handle:    handle,
		EventType: eventType,
		Callback:  callback,
	})
	return handle
}

// Unsubscribe removes the listener identified by the provided handle.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].Handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners synchronously.
// Untyped listeners run before typed ones.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	for _, listener := range bus.typedListeners[event.Type] {
		listener.Callback(event)
	}
}

// PublishBatch publishes events in order.
func (bus *EventBus) PublishBatch(events []Event) {
	for _, event := range events {
		bus.Publish(event)
	}
}

// NewEvent creates a new event with common fields populated.
func NewEvent(eventType EventType, matchID, playerID, cardID string) Event {
	return Event{
		Type:      eventType,
		MatchID:   matchID,
		PlayerID:  playerID,
		CardID:    cardID,
		Timestamp: time.Now(),
		Metadata:  make(map[string]string),
	}
}

// NewEventWithAmount creates a new event with an amount value.
func NewEventWithAmount(eventType EventType, matchID, playerID, cardID string, amount int) Event {
	evt := NewEvent(eventType, matchID, playerID, cardID)
	evt.Amount = amount
	return evt
}
