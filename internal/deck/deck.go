// Package deck resolves deck names into card lists and converts them into
// match card instances. The card catalog and saved deck lists live outside
// this server; Library is the fixture-backed stand-in used for local play
// and tests.
package deck

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"gopkg.in/yaml.v3"
)

// Definition is a catalog entry.
type Definition struct {
	ID   int            `yaml:"id" json:"id"`
	Name string         `yaml:"name" json:"name"`
	Kind state.CardKind `yaml:"kind" json:"kind"`
	Type string         `yaml:"type" json:"type"`
	Tier int            `yaml:"tier" json:"tier"`
	Cost int            `yaml:"cost" json:"cost"`
}

// Descriptor identifies a deck the way clients refer to it.
type Descriptor struct {
	Name    string `yaml:"name" json:"name"`
	OwnerID string `yaml:"owner,omitempty" json:"owner_id,omitempty"`
}

// Entry is a card and how many copies the deck holds.
type Entry struct {
	CardID int `yaml:"card" json:"card_id"`
	Count  int `yaml:"count" json:"count"`
}

// Spec is a resolved deck list.
type Spec struct {
	Descriptor `yaml:",inline"`
	Army       []Entry `yaml:"army" json:"army"`
	Civic      []Entry `yaml:"civic" json:"civic"`
}

// ArmyCount returns the number of army cards in the deck.
func (s Spec) ArmyCount() int { return countEntries(s.Army) }

// CivicCount returns the number of civic cards in the deck.
func (s Spec) CivicCount() int { return countEntries(s.Civic) }

func countEntries(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += e.Count
	}
	return n
}

// Catalog looks up card definitions.
type Catalog interface {
	Definition(id int) (Definition, bool)
}

// Provider resolves a user's deck by name.
type Provider interface {
	Deck(ctx context.Context, ownerID, name string) (Spec, error)
}

// Library is an in-memory catalog and deck store.
type Library struct {
	mu    sync.RWMutex
	cards map[int]Definition
	decks map[string]Spec // keyed by lowercased name
}

// NewLibrary builds a library from definitions and decks.
func NewLibrary(cards []Definition, decks []Spec) (*Library, error) {
	lib := &Library{
		cards: make(map[int]Definition, len(cards)),
		decks: make(map[string]Spec, len(decks)),
	}
	for _, card := range cards {
		if _, err := state.ParseCardKind(string(card.Kind)); err != nil {
			return nil, fmt.Errorf("card %d: %w", card.ID, err)
		}
		if _, dup := lib.cards[card.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %d", card.ID)
		}
		lib.cards[card.ID] = card
	}
	for _, d := range decks {
		if err := lib.AddDeck(d); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

type libraryFile struct {
	Cards []Definition `yaml:"cards"`
	Decks []Spec       `yaml:"decks"`
}

// ParseLibrary decodes a YAML library document.
func ParseLibrary(data []byte) (*Library, error) {
	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode deck library: %w", err)
	}
	return NewLibrary(file.Cards, file.Decks)
}

// LoadLibrary reads a YAML library from path.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deck library: %w", err)
	}
	return ParseLibrary(data)
}

// AddDeck stores a deck after checking every entry against the catalog.
func (l *Library) AddDeck(d Spec) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("deck name is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	check := func(entries []Entry, kind state.CardKind) error {
		for _, e := range entries {
			def, ok := l.cards[e.CardID]
			if !ok {
				return fmt.Errorf("deck %s: unknown card %d", name, e.CardID)
			}
			if def.Kind != kind {
				return fmt.Errorf("deck %s: card %d is %s, listed as %s", name, e.CardID, def.Kind, kind)
			}
			if e.Count <= 0 {
				return fmt.Errorf("deck %s: card %d has count %d", name, e.CardID, e.Count)
			}
		}
		return nil
	}
	if err := check(d.Army, state.KindArmy); err != nil {
		return err
	}
	if err := check(d.Civic, state.KindCivic); err != nil {
		return err
	}
	d.Name = name
	l.decks[strings.ToLower(name)] = d
	return nil
}

// Definition implements Catalog.
func (l *Library) Definition(id int) (Definition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.cards[id]
	return def, ok
}

// Deck implements Provider. Decks without an owner are shared.
func (l *Library) Deck(ctx context.Context, ownerID, name string) (Spec, error) {
	if err := ctx.Err(); err != nil {
		return Spec{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.decks[strings.ToLower(strings.TrimSpace(name))]
	if !ok || (d.OwnerID != "" && d.OwnerID != ownerID) {
		return Spec{}, apperrors.NotFound("Deck", "deck %q not found", name)
	}
	return d, nil
}

// Expand converts a deck list into card instances owned by ownerID. It is
// the only place deck lists become match cards. Instance ids are
// "<owner>-<kind>-<nn>" and unique within the deck.
func Expand(spec Spec, catalog Catalog, ownerID string) (army, civic []state.CardInstance, err error) {
	expand := func(entries []Entry, kind state.CardKind) ([]state.CardInstance, error) {
		var out []state.CardInstance
		for _, e := range entries {
			def, ok := catalog.Definition(e.CardID)
			if !ok {
				return nil, fmt.Errorf("unknown card %d", e.CardID)
			}
			if def.Kind != kind {
				return nil, fmt.Errorf("card %d is %s, expected %s", e.CardID, def.Kind, kind)
			}
			for i := 0; i < e.Count; i++ {
				out = append(out, state.CardInstance{
					ID:           fmt.Sprintf("%s-%s-%02d", ownerID, kind, len(out)+1),
					DefinitionID: def.ID,
					Name:         def.Name,
					Kind:         def.Kind,
					Type:         def.Type,
					Tier:         def.Tier,
					Cost:         def.Cost,
					Owner:        ownerID,
				})
			}
		}
		return out, nil
	}

	if army, err = expand(spec.Army, state.KindArmy); err != nil {
		return nil, nil, fmt.Errorf("expand deck %s: %w", spec.Name, err)
	}
	if civic, err = expand(spec.Civic, state.KindCivic); err != nil {
		return nil, nil, fmt.Errorf("expand deck %s: %w", spec.Name, err)
	}
	return army, civic, nil
}
