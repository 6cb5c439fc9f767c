package watchers

import (
	"github.com/empiretcg/empire-server-go/internal/game/rules"
)

// RoundActionsKey is the registry key of the RoundActionWatcher.
const RoundActionsKey = "RoundActionWatcher"

// RoundActionWatcher counts, per player, how many times each action kind
// was taken in the current round. It backs once-per-round restrictions.
type RoundActionWatcher struct {
	*rules.BaseWatcher
	actions map[string]map[string]int // playerID -> action kind -> count
}

// NewRoundActionWatcher creates an empty watcher.
func NewRoundActionWatcher() *RoundActionWatcher {
	return &RoundActionWatcher{
		BaseWatcher: rules.NewBaseWatcher(RoundActionsKey),
		actions:     make(map[string]map[string]int),
	}
}

// Watch implements the Watcher interface. Any event carrying an action
// kind and a player counts.
func (w *RoundActionWatcher) Watch(event rules.Event) {
	if event.Action == "" || event.PlayerID == "" {
		return
	}
	w.record(event.PlayerID, event.Action)
}

func (w *RoundActionWatcher) record(playerID, action string) {
	perPlayer, ok := w.actions[playerID]
	if !ok {
		perPlayer = make(map[string]int)
		w.actions[playerID] = perPlayer
	}
	perPlayer[action]++
	w.SetCondition(true)
}

// Reset clears the watcher's state.
func (w *RoundActionWatcher) Reset() {
	w.BaseWatcher.Reset()
	w.actions = make(map[string]map[string]int)
}

// Count returns how many times playerID took action this round.
func (w *RoundActionWatcher) Count(playerID, action string) int {
	return w.actions[playerID][action]
}

// Snapshot returns a copy of the per-round record for persistence.
func (w *RoundActionWatcher) Snapshot() map[string]map[string]int {
	out := make(map[string]map[string]int, len(w.actions))
	for player, perPlayer := range w.actions {
		inner := make(map[string]int, len(perPlayer))
		for action, n := range perPlayer {
			inner[action] = n
		}
		out[player] = inner
	}
	return out
}

// Restore replaces the watcher's state with a persisted record.
func (w *RoundActionWatcher) Restore(record map[string]map[string]int) {
	w.Reset()
	for player, perPlayer := range record {
		for action, n := range perPlayer {
			if n <= 0 {
				continue
			}
			if w.actions[player] == nil {
				w.actions[player] = make(map[string]int)
			}
			w.actions[player][action] = n
		}
	}
	w.SetCondition(len(w.actions) > 0)
}

// RoundWatcher returns the RoundActionWatcher registered in registry,
// adding one if absent.
func RoundWatcher(registry *rules.WatcherRegistry) *RoundActionWatcher {
	if w, ok := registry.GetWatcher(RoundActionsKey).(*RoundActionWatcher); ok {
		return w
	}
	w := NewRoundActionWatcher()
	registry.AddWatcher(w)
	return w
}
