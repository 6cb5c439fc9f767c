package rules

import (
	"errors"
	"sync"
)

// ErrQueueEmpty is returned by Pop on an empty queue.
var ErrQueueEmpty = errors.New("effect queue empty")

// EffectQueue holds triggered effects awaiting sequential application.
// Effects resolve first in, first out, and an effect may enqueue more.
type EffectQueue struct {
	mu    sync.Mutex
	items []TriggeredEffect
}

// NewEffectQueue creates an empty queue.
func NewEffectQueue() *EffectQueue {
	return &EffectQueue{
		items: make([]TriggeredEffect, 0, 4),
	}
}

// Push appends effects to the back of the queue.
func (q *EffectQueue) Push(effects ...TriggeredEffect) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, effects...)
}

// Pop removes the effect at the front of the queue.
func (q *EffectQueue) Pop() (TriggeredEffect, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return TriggeredEffect{}, ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// List returns a copy of the pending effects, front first.
func (q *EffectQueue) List() []TriggeredEffect {
	q.mu.Lock()
	defer q.mu.Unlock()
	cpy := make([]TriggeredEffect, len(q.items))
	copy(cpy, q.items)
	return cpy
}

// Len returns the number of pending effects.
func (q *EffectQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain pops effects until the queue is empty, calling apply for each.
// Effects pushed by apply are drained too. limit guards against hooks
// that keep re-triggering each other; zero means no limit.
func (q *EffectQueue) Drain(limit int, apply func(TriggeredEffect) error) (int, error) {
	applied := 0
	for {
		if limit > 0 && applied >= limit {
			return applied, errors.New("triggered effect limit reached")
		}
		effect, err := q.Pop()
		if errors.Is(err, ErrQueueEmpty) {
			return applied, nil
		}
		if err := apply(effect); err != nil {
			return applied, err
		}
		applied++
	}
}
