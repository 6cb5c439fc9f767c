package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func newTestMatch(t *testing.T) *MatchState {
	t.Helper()
	ms := NewMatchState("match-1", "alice", "bob", 0, testNow)
	alice := ms.Zones["alice"]
	bob := ms.Zones["bob"]
	require.NoError(t, alice.Set(ZoneRef{Kind: ZoneArmyDeck}, []string{"a-army-1", "a-army-2"}))
	require.NoError(t, alice.Set(ZoneRef{Kind: ZoneArmyHand}, []string{"a-army-3"}))
	require.NoError(t, alice.Set(ZoneRef{Kind: ZoneCivicHand}, []string{"a-civic-1", "a-civic-2"}))
	require.NoError(t, bob.Set(ZoneRef{Kind: ZoneArmyHand}, []string{"b-army-1"}))
	return ms
}

func TestNewMatchStateDefaults(t *testing.T) {
	ms := NewMatchState("match-1", "alice", "bob", 0, testNow)

	assert.Equal(t, rules.PhaseStrategy, ms.Phase)
	assert.Equal(t, 1, ms.Round)
	assert.Equal(t, "alice", ms.InitiativeHolder)
	assert.Equal(t, "alice", ms.PriorityPlayer)
	assert.Equal(t, DefaultMorale, ms.Morale["alice"])
	assert.Equal(t, DefaultTier, ms.Tier["bob"])
	assert.Len(t, ms.TerritoryOccupants, TerritoryCount)
	assert.Len(t, ms.Zones["alice"].Territories, TerritoryCount)
	assert.NoError(t, ms.CheckInvariants())
}

func TestParseZone(t *testing.T) {
	ref, err := ParseZone("Territory-2-Occupying")
	require.NoError(t, err)
	assert.Equal(t, ZoneOccupying, ref.Kind)
	assert.Equal(t, "territory-2", ref.Territory)
	assert.Equal(t, "territory-2-occupying", ref.String())
	assert.True(t, ref.IsBoard())

	ref, err = ParseZone("army-deck")
	require.NoError(t, err)
	assert.False(t, ref.IsBoard())

	for _, bad := range []string{"", "library", "territory-4-occupying", "territory-1-hand"} {
		_, err := ParseZone(bad)
		assert.Error(t, err, bad)
	}
}

func TestZoneMoveKeepsCardsDisjoint(t *testing.T) {
	ms := newTestMatch(t)
	alice := ms.Zones["alice"]

	require.NoError(t, alice.Move("a-army-3", ZoneRef{Kind: ZoneArmyHand}, ZoneRef{Kind: ZoneHeartland}))
	alice.SetExerted("a-army-3", true)

	ref, ok := alice.Locate("a-army-3")
	require.True(t, ok)
	assert.Equal(t, ZoneHeartland, ref.Kind)
	assert.NoError(t, ms.CheckInvariants())

	// Moving a card that is not in the source zone changes nothing.
	err := alice.Move("a-army-3", ZoneRef{Kind: ZoneArmyHand}, ZoneRef{Kind: ZoneGraveyard})
	assert.Error(t, err)
	assert.True(t, alice.Contains(ZoneRef{Kind: ZoneHeartland}, "a-army-3"))

	// Leaving the board clears exertion.
	require.NoError(t, alice.Move("a-army-3", ZoneRef{Kind: ZoneHeartland}, ZoneRef{Kind: ZoneGraveyard}))
	assert.False(t, alice.IsExerted("a-army-3"))
}

func TestZoneMoveToUnknownTerritoryLeavesSource(t *testing.T) {
	ms := newTestMatch(t)
	alice := ms.Zones["alice"]

	err := alice.Move("a-army-3", ZoneRef{Kind: ZoneArmyHand}, ZoneRef{Kind: ZoneAdvancing, Territory: "territory-9"})
	assert.Error(t, err)
	assert.True(t, alice.Contains(ZoneRef{Kind: ZoneArmyHand}, "a-army-3"))
}

func TestCheckInvariantsDetectsDuplicate(t *testing.T) {
	ms := newTestMatch(t)
	require.NoError(t, ms.Zones["bob"].Append(ZoneRef{Kind: ZoneGraveyard}, "a-army-1"))

	err := ms.CheckInvariants()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a-army-1")
}

func TestPopFrontDrawsTopCard(t *testing.T) {
	ms := newTestMatch(t)
	alice := ms.Zones["alice"]

	top, ok := alice.PopFront(ZoneRef{Kind: ZoneArmyDeck})
	require.True(t, ok)
	assert.Equal(t, "a-army-1", top)
	assert.Equal(t, []string{"a-army-2"}, alice.Cards(ZoneRef{Kind: ZoneArmyDeck}))

	_, ok = alice.PopFront(ZoneRef{Kind: ZoneCivicDeck})
	assert.False(t, ok)
}

func TestAdjustMoraleEndsMatch(t *testing.T) {
	ms := newTestMatch(t)

	morale, err := ms.AdjustMorale("bob", -30)
	require.NoError(t, err)
	assert.Equal(t, 0, morale)
	assert.True(t, ms.IsOver())
	assert.Equal(t, "alice", ms.Winner)

	_, err = ms.AdjustMorale("carol", 1)
	assert.Error(t, err)
}

func TestRecomputeTier(t *testing.T) {
	ms := newTestMatch(t)
	alice := ms.Zones["alice"]

	expected := []int{1, 1, 2, 2, 3, 3, 3}
	for i, want := range expected {
		if i > 0 {
			require.NoError(t, alice.Append(ZoneRef{Kind: ZoneSettlement, Territory: "territory-1"}, "s"+string(rune('a'+i))))
		}
		if got := ms.RecomputeTier("alice"); got != want {
			t.Fatalf("settlements=%d: expected tier %d, got %d", i, want, got)
		}
	}
}

func TestRecomputeOccupant(t *testing.T) {
	ms := newTestMatch(t)
	occupying := ZoneRef{Kind: ZoneOccupying, Territory: "territory-1"}

	require.NoError(t, ms.Zones["bob"].Append(occupying, "b-army-1"))
	assert.Equal(t, "bob", ms.RecomputeOccupant("territory-1"))

	require.NoError(t, ms.Zones["alice"].Append(occupying, "a-army-3"))
	assert.Equal(t, "bob", ms.RecomputeOccupant("territory-1"), "incumbent keeps a contested territory")

	ms.Zones["bob"].Remove(occupying, "b-army-1")
	assert.Equal(t, "alice", ms.RecomputeOccupant("territory-1"))
}

func TestCloneIsDeep(t *testing.T) {
	ms := newTestMatch(t)
	value := 3
	ms.AppendMove(GameMove{PlayerID: "alice", MoveType: "AdjustMorale", Value: &value})
	ms.RoundActions["alice"] = map[string]int{"PlayVillager": 1}

	cp := ms.Clone()
	require.NoError(t, cp.Zones["alice"].Move("a-army-3", ZoneRef{Kind: ZoneArmyHand}, ZoneRef{Kind: ZoneHeartland}))
	cp.Morale["alice"] = 1
	cp.RoundActions["alice"]["PlayVillager"] = 5
	*cp.Moves[0].Value = 9
	cp.Pass("alice")

	assert.True(t, ms.Zones["alice"].Contains(ZoneRef{Kind: ZoneArmyHand}, "a-army-3"))
	assert.Equal(t, DefaultMorale, ms.Morale["alice"])
	assert.Equal(t, 1, ms.RoundActions["alice"]["PlayVillager"])
	assert.Equal(t, 3, *ms.Moves[0].Value)
	assert.Equal(t, "alice", ms.PriorityPlayer)
}

func TestAppendMoveStampsRoundAndPhase(t *testing.T) {
	ms := newTestMatch(t)
	ms.AdvancePhase()

	move := ms.AppendMove(GameMove{PlayerID: "bob", MoveType: "Pass"})
	assert.Equal(t, 1, move.Seq)
	assert.Equal(t, 1, move.Round)
	assert.Equal(t, rules.PhaseBattle, move.Phase)
}

func TestChecksumDeterministic(t *testing.T) {
	checksums := make(map[string]bool)
	for i := 0; i < 10; i++ {
		ms := newTestMatch(t)
		ms.Zones["alice"].SetExerted("a-army-3", true)
		ms.Zones["alice"].SetExerted("a-civic-1", true)
		checksums[ms.Checksum()] = true
	}
	assert.Len(t, checksums, 1)

	a := newTestMatch(t)
	b := newTestMatch(t)
	b.Morale["bob"] = 24
	assert.NotEqual(t, a.Checksum(), b.Checksum())

	// Deck order is part of the state.
	c := newTestMatch(t)
	require.NoError(t, c.Zones["alice"].Set(ZoneRef{Kind: ZoneArmyDeck}, []string{"a-army-2", "a-army-1"}))
	assert.NotEqual(t, a.Checksum(), c.Checksum())

	// Timestamps are not.
	d := newTestMatch(t)
	d.UpdatedAt = testNow.Add(time.Hour)
	assert.Equal(t, a.Checksum(), d.Checksum())
}

func TestMatchStateJSONRoundTrip(t *testing.T) {
	ms := newTestMatch(t)
	ms.Cards["a-army-3"] = CardInstance{ID: "a-army-3", DefinitionID: 1003, Name: "militia", Kind: KindArmy, Tier: 1, Cost: 1, Owner: "alice"}

	data, err := json.Marshal(ms)
	require.NoError(t, err)

	var decoded MatchState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ms.Checksum(), decoded.Checksum())
	assert.Equal(t, ms.Cards, decoded.Cards)
	assert.Equal(t, [2]string{"alice", "bob"}, decoded.Players)
}
