package effects

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	armyHand  = state.ZoneRef{Kind: state.ZoneArmyHand}
	civicHand = state.ZoneRef{Kind: state.ZoneCivicHand}
	heartland = state.ZoneRef{Kind: state.ZoneHeartland}
	villagers = state.ZoneRef{Kind: state.ZoneVillagers}
	armyDeck  = state.ZoneRef{Kind: state.ZoneArmyDeck}
	civicDeck = state.ZoneRef{Kind: state.ZoneCivicDeck}
)

func addCard(t *testing.T, ms *state.MatchState, ref state.ZoneRef, card state.CardInstance) {
	t.Helper()
	ms.Cards[card.ID] = card
	require.NoError(t, ms.Zones[card.Owner].Append(ref, card.ID))
}

func army(owner, id, name string, tier, cost int) state.CardInstance {
	return state.CardInstance{ID: id, Name: name, Kind: state.KindArmy, Type: "Unit", Tier: tier, Cost: cost, Owner: owner}
}

func civic(owner, id, name, typ string) state.CardInstance {
	return state.CardInstance{ID: id, Name: name, Kind: state.KindCivic, Type: typ, Tier: 1, Owner: owner}
}

func newTestMatch(t *testing.T) *state.MatchState {
	t.Helper()
	ms := state.NewMatchState("match-1", "alice", "bob", 0, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))

	addCard(t, ms, armyHand, army("alice", "alice-army-01", "militia", 1, 1))
	addCard(t, ms, armyHand, army("alice", "alice-army-02", "scout", 1, 1))
	addCard(t, ms, armyHand, army("alice", "alice-army-03", "knight", 2, 3))
	addCard(t, ms, armyHand, army("alice", "alice-army-04", "warlord", 3, 5))
	addCard(t, ms, armyHand, army("alice", "alice-army-05", "spearman", 1, 2))
	addCard(t, ms, armyDeck, army("alice", "alice-army-06", "archer", 1, 2))
	addCard(t, ms, armyDeck, army("alice", "alice-army-07", "cavalry", 2, 3))

	addCard(t, ms, civicHand, civic("alice", "alice-civic-01", "fortress", "Settlement"))
	addCard(t, ms, civicHand, civic("alice", "alice-civic-02", "market", "Settlement"))
	addCard(t, ms, civicHand, civic("alice", "alice-civic-03", "blacksmith", "Villager"))
	addCard(t, ms, civicHand, civic("alice", "alice-civic-04", "herbalist", "Villager"))
	addCard(t, ms, civicDeck, civic("alice", "alice-civic-05", "farmstead", "Settlement"))

	addCard(t, ms, armyHand, army("bob", "bob-army-01", "militia", 1, 1))
	require.NoError(t, ms.CheckInvariants())
	return ms
}

func newTestResolver(t *testing.T, opts ...Option) *Resolver {
	return NewResolver(zaptest.NewLogger(t), opts...)
}

func requireValidation(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation), "expected validation error, got %v", err)
}

func TestDeployMovesCardExerted(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	res, err := r.Apply(ms, "alice", "alice-army-05", KindDeploy, Context{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CostPaid)
	assert.Equal(t, []string{"Deployed spearman to heartland"}, res.Effects)
	assert.Empty(t, res.Triggered)

	alice := ms.Zones["alice"]
	assert.True(t, alice.Contains(heartland, "alice-army-05"))
	assert.True(t, alice.IsExerted("alice-army-05"))
	require.Len(t, res.Events, 1)
	assert.Equal(t, rules.EventCardDeployed, res.Events[0].Type)
	assert.Equal(t, string(KindDeploy), res.Events[0].Action)
	assert.NoError(t, ms.CheckInvariants())
}

func TestDeployTierSurcharge(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	res, err := r.Apply(ms, "alice", "alice-army-03", KindDeploy, Context{})
	require.NoError(t, err)
	assert.Equal(t, 3+2, res.CostPaid)

	// Tier 3 is two tiers above tier 1.
	before := ms.Clone()
	_, err = r.Apply(ms, "alice", "alice-army-04", KindDeploy, Context{})
	requireValidation(t, err)
	assert.Equal(t, before.Checksum(), ms.Checksum())
}

func TestDeployCost(t *testing.T) {
	card := state.CardInstance{Tier: 2, Cost: 3}

	cost, ok := DeployCost(card, 2)
	assert.True(t, ok)
	assert.Equal(t, 3, cost)

	cost, ok = DeployCost(card, 1)
	assert.True(t, ok)
	assert.Equal(t, 5, cost)

	_, ok = DeployCost(state.CardInstance{Tier: 3, Cost: 5}, 1)
	assert.False(t, ok)
}

type brokePolicy struct{}

func (brokePolicy) CanAfford(*state.MatchState, string, int) bool { return false }
func (brokePolicy) Pay(*state.MatchState, string, int) error      { return nil }

func TestDeployUnaffordable(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t, WithCostPolicy(brokePolicy{}))

	_, err := r.Apply(ms, "alice", "alice-army-05", KindDeploy, Context{})
	requireValidation(t, err)
	assert.True(t, ms.Zones["alice"].Contains(armyHand, "alice-army-05"))
}

func TestDeployRejections(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)
	before := ms.Checksum()

	cases := map[string]struct {
		player string
		card   string
	}{
		"civic card":      {"alice", "alice-civic-01"},
		"opponent's card": {"alice", "bob-army-01"},
		"not in hand":     {"alice", "alice-army-06"},
		"unknown card":    {"alice", "nope"},
		"unknown player":  {"carol", "alice-army-01"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := r.Apply(ms, tc.player, tc.card, KindDeploy, Context{})
			requireValidation(t, err)
			assert.False(t, res.Success)
		})
	}
	assert.Equal(t, before, ms.Checksum())
}

func TestMilitiaAndScoutHooks(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	res, err := r.Apply(ms, "alice", "alice-army-01", KindDeploy, Context{})
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	assert.Equal(t, rules.EffectGainMorale, res.Triggered[0].Type)
	assert.Equal(t, "alice", res.Triggered[0].PlayerID)
	assert.Equal(t, "alice-army-01", res.Triggered[0].SourceID)

	res, err = r.Apply(ms, "alice", "alice-army-02", KindDeploy, Context{})
	require.NoError(t, err)
	require.Len(t, res.Triggered, 1)
	scout := res.Triggered[0]
	assert.Equal(t, rules.EffectDrawCard, scout.Type)

	drawn, err := r.ApplyTriggered(ms, scout)
	require.NoError(t, err)
	require.Len(t, drawn.Drawn, 1)
	assert.Equal(t, "alice-army-06", drawn.Drawn[0].ID)
	assert.Equal(t, "Scout allows drawing an extra army card", drawn.Effects[0])
	assert.True(t, ms.Zones["alice"].Contains(armyHand, "alice-army-06"))
}

func TestGainMoraleIsCapped(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	res, err := r.ApplyTriggered(ms, rules.TriggeredEffect{Type: rules.EffectGainMorale, PlayerID: "alice", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, state.DefaultMorale, ms.Morale["alice"])
	require.Len(t, res.Events, 1)
	assert.Equal(t, "0", res.Events[0].Metadata["delta"])

	ms.Morale["alice"] = 20
	_, err = r.ApplyTriggered(ms, rules.TriggeredEffect{Type: rules.EffectGainMorale, PlayerID: "alice", Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, 23, ms.Morale["alice"])
}

func TestSettleRequiresOccupation(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	_, err := r.Apply(ms, "alice", "alice-civic-01", KindSettle, Context{TerritoryID: "territory-1"})
	requireValidation(t, err)

	ms.TerritoryOccupants["territory-1"] = "alice"
	res, err := r.Apply(ms, "alice", "alice-civic-01", KindSettle, Context{TerritoryID: "territory-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-civic-01"}, ms.Zones["alice"].Territories["territory-1"].Settlements)
	assert.Equal(t, 1, ms.Tier["alice"])
	require.Len(t, res.Triggered, 1, "fortress hook")
	assert.Equal(t, rules.EffectModifyStats, res.Triggered[0].Type)

	res, err = r.Apply(ms, "alice", "alice-civic-02", KindSettle, Context{TerritoryID: "territory-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, ms.Tier["alice"])
	assert.Contains(t, res.Effects, "Advanced to tier 2")
	require.Len(t, res.Triggered, 1, "market hook")
	assert.Equal(t, "civic", res.Triggered[0].CardType)

	_, err = r.Apply(ms, "alice", "alice-civic-03", KindSettle, Context{TerritoryID: "territory-7"})
	requireValidation(t, err)
}

func TestPlayVillagerOncePerRound(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	res, err := r.Apply(ms, "alice", "alice-civic-03", KindPlayVillager, Context{})
	require.NoError(t, err)
	assert.True(t, ms.Zones["alice"].Contains(villagers, "alice-civic-03"))
	require.Len(t, res.Triggered, 1, "blacksmith hook")

	ms.RoundActions["alice"] = map[string]int{string(KindPlayVillager): 1}
	_, err = r.Apply(ms, "alice", "alice-civic-04", KindPlayVillager, Context{})
	requireValidation(t, err)
	assert.True(t, ms.Zones["alice"].Contains(civicHand, "alice-civic-04"))

	ms.RoundActions = map[string]map[string]int{}
	_, err = r.Apply(ms, "alice", "alice-civic-04", KindPlayVillager, Context{})
	assert.NoError(t, err)
}

func TestCommitUnits(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)
	_, err := r.Apply(ms, "alice", "alice-army-01", KindDeploy, Context{})
	require.NoError(t, err)
	_, err = r.Apply(ms, "alice", "alice-army-05", KindDeploy, Context{})
	require.NoError(t, err)

	// One card not in the heartland rejects the whole commit.
	_, err = r.Apply(ms, "alice", "", KindCommitUnits, Context{
		TerritoryID: "territory-2",
		CardIDs:     []string{"alice-army-01", "alice-army-02"},
	})
	requireValidation(t, err)
	assert.True(t, ms.Zones["alice"].Contains(heartland, "alice-army-01"))

	res, err := r.Apply(ms, "alice", "", KindCommitUnits, Context{
		TerritoryID: "territory-2",
		CardIDs:     []string{"alice-army-01", "alice-army-05"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-army-01", "alice-army-05"}, ms.Zones["alice"].Territories["territory-2"].Advancing)
	assert.Len(t, res.Effects, 2)
	assert.Equal(t, 2, res.Events[0].Amount)
}

func TestDrawAndEmptyDeckPolicies(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	for i := 0; i < 2; i++ {
		res, err := r.Apply(ms, "alice", "", KindDraw, Context{DeckKind: state.KindArmy})
		require.NoError(t, err)
		require.Len(t, res.Drawn, 1)
	}
	res, err := r.Apply(ms, "alice", "", KindDraw, Context{DeckKind: state.KindArmy})
	require.NoError(t, err)
	assert.Empty(t, res.Drawn)
	assert.False(t, ms.IsOver())

	_, err = r.Apply(ms, "alice", "", KindDraw, Context{DeckKind: "navy"})
	requireValidation(t, err)

	strict := newTestResolver(t, WithEmptyDeckPolicy(EmptyDeckLose))
	res, err = strict.Apply(ms, "alice", "", KindDraw, Context{DeckKind: state.KindArmy})
	require.NoError(t, err)
	assert.Equal(t, 0, ms.Morale["alice"])
	assert.True(t, ms.IsOver())
	assert.Equal(t, "bob", ms.Winner)
	assert.Equal(t, rules.EventGameOver, res.Events[len(res.Events)-1].Type)
}

func TestShuffleIsSeeded(t *testing.T) {
	a := newTestMatch(t)
	b := newTestMatch(t)
	r := newTestResolver(t)
	for _, ms := range []*state.MatchState{a, b} {
		for i := 0; i < 10; i++ {
			addCard(t, ms, armyDeck, army("alice", "extra-"+string(rune('a'+i)), "veteran", 1, 2))
		}
	}

	_, err := r.Apply(a, "alice", "", KindShuffle, Context{DeckKind: state.KindArmy, Rand: rand.New(rand.NewSource(7))})
	require.NoError(t, err)
	_, err = r.Apply(b, "alice", "", KindShuffle, Context{DeckKind: state.KindArmy, Rand: rand.New(rand.NewSource(7))})
	require.NoError(t, err)

	assert.Equal(t, a.Zones["alice"].Cards(armyDeck), b.Zones["alice"].Cards(armyDeck))
	assert.Len(t, a.Zones["alice"].Cards(armyDeck), 12)
	assert.NoError(t, a.CheckInvariants())
}

func TestMoveCardUpdatesOccupant(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)
	_, err := r.Apply(ms, "alice", "alice-army-05", KindDeploy, Context{})
	require.NoError(t, err)

	res, err := r.Apply(ms, "alice", "alice-army-05", KindMoveCard, Context{To: "territory-3-occupying"})
	require.NoError(t, err)
	assert.Equal(t, "alice", ms.TerritoryOccupants["territory-3"])
	assert.Contains(t, res.Effects, "alice now occupies territory-3")
	assert.True(t, ms.Zones["alice"].IsExerted("alice-army-05"), "board to board keeps exertion")

	_, err = r.Apply(ms, "alice", "alice-army-05", KindMoveCard, Context{From: "territory-3-occupying", To: "graveyard"})
	require.NoError(t, err)
	assert.Equal(t, "", ms.TerritoryOccupants["territory-3"])
	assert.False(t, ms.Zones["alice"].IsExerted("alice-army-05"))

	_, err = r.Apply(ms, "alice", "alice-army-05", KindMoveCard, Context{To: "the-moon"})
	requireValidation(t, err)
	_, err = r.Apply(ms, "alice", "alice-army-05", KindMoveCard, Context{From: "heartland", To: "army-hand"})
	requireValidation(t, err)
}

func TestToggleExert(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	_, err := r.Apply(ms, "alice", "alice-army-05", KindToggleExert, Context{})
	requireValidation(t, err)

	_, err = r.Apply(ms, "alice", "alice-army-05", KindDeploy, Context{})
	require.NoError(t, err)
	res, err := r.Apply(ms, "alice", "alice-army-05", KindToggleExert, Context{})
	require.NoError(t, err)
	assert.False(t, ms.Zones["alice"].IsExerted("alice-army-05"))
	assert.Equal(t, rules.EventCardUnexerted, res.Events[0].Type)

	res, err = r.Apply(ms, "alice", "alice-army-05", KindToggleExert, Context{})
	require.NoError(t, err)
	assert.True(t, ms.Zones["alice"].IsExerted("alice-army-05"))
	assert.Equal(t, rules.EventCardExerted, res.Events[0].Type)
}

func TestAdjustMoraleEndsMatch(t *testing.T) {
	ms := newTestMatch(t)
	r := newTestResolver(t)

	_, err := r.Apply(ms, "alice", "", KindAdjustMorale, Context{Value: 0})
	requireValidation(t, err)

	res, err := r.Apply(ms, "alice", "", KindAdjustMorale, Context{TargetPlayerID: "bob", Value: -40})
	require.NoError(t, err)
	assert.Equal(t, 0, ms.Morale["bob"])
	assert.True(t, ms.IsOver())
	assert.Equal(t, "alice", ms.Winner)
	assert.Equal(t, string(KindAdjustMorale), res.Events[0].Action)
	assert.Empty(t, res.Events[1].Action)
}

func TestPassIsNotResolved(t *testing.T) {
	ms := newTestMatch(t)
	_, err := newTestResolver(t).Apply(ms, "alice", "", KindPass, Context{})
	requireValidation(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("playvillager")
	require.NoError(t, err)
	assert.Equal(t, KindPlayVillager, k)
	assert.True(t, k.ConsumesPriority())
	assert.True(t, k.OncePerRound())
	assert.False(t, KindDraw.ConsumesPriority())
	assert.False(t, KindPass.ConsumesPriority())

	_, err = ParseKind("cast")
	assert.Error(t, err)
}

func TestParseEmptyDeckPolicy(t *testing.T) {
	p, err := ParseEmptyDeckPolicy("")
	require.NoError(t, err)
	assert.Equal(t, EmptyDeckIgnore, p)
	p, err = ParseEmptyDeckPolicy("LOSE")
	require.NoError(t, err)
	assert.Equal(t, EmptyDeckLose, p)
	_, err = ParseEmptyDeckPolicy("reshuffle")
	assert.Error(t, err)
}
