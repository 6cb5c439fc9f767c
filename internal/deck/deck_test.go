package deck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := LoadLibrary("testdata/decks.yaml")
	require.NoError(t, err)
	return lib
}

func TestLoadLibrary(t *testing.T) {
	lib := loadTestLibrary(t)

	def, ok := lib.Definition(1001)
	require.True(t, ok)
	assert.Equal(t, "militia", def.Name)
	assert.Equal(t, state.KindArmy, def.Kind)

	spec, err := lib.Deck(context.Background(), "alice", "starterdeck")
	require.NoError(t, err)
	assert.Equal(t, "StarterDeck", spec.Name)
	assert.Equal(t, 30, spec.ArmyCount())
	assert.Equal(t, 15, spec.CivicCount())
}

func TestDeckNotFound(t *testing.T) {
	lib := loadTestLibrary(t)

	_, err := lib.Deck(context.Background(), "alice", "NoSuchDeck")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestOwnedDeckIsPrivate(t *testing.T) {
	lib := loadTestLibrary(t)
	require.NoError(t, lib.AddDeck(Spec{
		Descriptor: Descriptor{Name: "Secret", OwnerID: "alice"},
		Army:       []Entry{{CardID: 1001, Count: 2}},
	}))

	_, err := lib.Deck(context.Background(), "alice", "Secret")
	assert.NoError(t, err)
	_, err = lib.Deck(context.Background(), "bob", "Secret")
	assert.Error(t, err)
}

func TestAddDeckRejectsBadEntries(t *testing.T) {
	lib := loadTestLibrary(t)

	cases := map[string]Spec{
		"unknown card": {Descriptor: Descriptor{Name: "Bad"}, Army: []Entry{{CardID: 9999, Count: 1}}},
		"wrong kind":   {Descriptor: Descriptor{Name: "Bad"}, Army: []Entry{{CardID: 2001, Count: 1}}},
		"zero count":   {Descriptor: Descriptor{Name: "Bad"}, Civic: []Entry{{CardID: 2001, Count: 0}}},
		"no name":      {Army: []Entry{{CardID: 1001, Count: 1}}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, lib.AddDeck(spec))
		})
	}
}

func TestParseLibraryRejectsDuplicateCard(t *testing.T) {
	doc := `
cards:
  - {id: 1, name: a, kind: army, tier: 1, cost: 1}
  - {id: 1, name: b, kind: army, tier: 1, cost: 1}
`
	_, err := ParseLibrary([]byte(doc))
	assert.Error(t, err)
}

func TestParseLibraryRejectsUnknownKind(t *testing.T) {
	doc := `
cards:
  - {id: 1, name: a, kind: navy, tier: 1, cost: 1}
`
	_, err := ParseLibrary([]byte(doc))
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	lib := loadTestLibrary(t)
	spec, err := lib.Deck(context.Background(), "alice", "AliceDeck")
	require.NoError(t, err)

	army, civic, err := Expand(spec, lib, "alice")
	require.NoError(t, err)
	require.Len(t, army, 30)
	require.Len(t, civic, 15)

	assert.Equal(t, "alice-army-01", army[0].ID)
	assert.Equal(t, "militia", army[0].Name)
	assert.Equal(t, "alice-civic-15", civic[14].ID)
	assert.Equal(t, "Villager", civic[14].Type)

	seen := make(map[string]bool)
	for _, card := range append(army, civic...) {
		assert.False(t, seen[card.ID], "duplicate id %s", card.ID)
		seen[card.ID] = true
		assert.Equal(t, "alice", card.Owner)
	}
}

func TestExpandUnknownCard(t *testing.T) {
	lib := loadTestLibrary(t)
	spec := Spec{Descriptor: Descriptor{Name: "Ghost"}, Army: []Entry{{CardID: 4242, Count: 1}}}

	_, _, err := Expand(spec, lib, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4242")
}

func TestValidator(t *testing.T) {
	lib := loadTestLibrary(t)
	require.NoError(t, lib.AddDeck(Spec{
		Descriptor: Descriptor{Name: "Tiny"},
		Army:       []Entry{{CardID: 1001, Count: 3}},
		Civic:      []Entry{{CardID: 2001, Count: 1}},
	}))
	v := NewValidator(lib, Rules{MinNameLength: 3, ArmySize: 30, CivicSize: 15})
	ctx := context.Background()

	assert.Empty(t, v.Validate(ctx, "alice", "StarterDeck"))
	assert.Equal(t, []string{"deck name is required"}, v.Validate(ctx, "alice", "  "))

	problems := v.Validate(ctx, "alice", "ab")
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "at least 3")

	problems = v.Validate(ctx, "alice", "Missing")
	require.Len(t, problems, 1)
	assert.True(t, strings.Contains(problems[0], "not found"))

	problems = v.Validate(ctx, "alice", "Tiny")
	assert.Len(t, problems, 2)
}

func TestValidatorWithoutProvider(t *testing.T) {
	v := NewValidator(nil, Rules{MinNameLength: 3})
	assert.Empty(t, v.Validate(context.Background(), "alice", "Anything"))
}
