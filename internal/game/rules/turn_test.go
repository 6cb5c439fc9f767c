package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnStateInitial(t *testing.T) {
	ts := NewTurnState("alice", "bob")

	if ts.Phase != PhaseStrategy {
		t.Fatalf("expected STRATEGY, got %s", ts.Phase)
	}
	if ts.Round != 1 {
		t.Fatalf("expected round 1, got %d", ts.Round)
	}
	if ts.InitiativeHolder != "alice" || ts.PriorityPlayer != "alice" {
		t.Fatalf("expected alice to hold initiative and priority, got %s/%s", ts.InitiativeHolder, ts.PriorityPlayer)
	}
	assert.Equal(t, "bob", ts.Opponent("alice"))
	assert.Equal(t, "alice", ts.Opponent("bob"))
	assert.Equal(t, "", ts.Opponent("carol"))
}

func TestTurnStateTwoPassAdvances(t *testing.T) {
	ts := NewTurnState("alice", "bob")

	first := ts.Pass("alice")
	assert.False(t, first.Advanced)
	assert.Equal(t, "bob", ts.PriorityPlayer)
	assert.Equal(t, "alice", ts.LastPlayerToPass)

	second := ts.Pass("bob")
	require.True(t, second.Advanced)
	assert.Equal(t, PhaseStrategy, second.PrevPhase)
	assert.Equal(t, PhaseBattle, ts.Phase)
	assert.Equal(t, "bob", ts.InitiativeHolder)
	assert.Equal(t, "bob", ts.PriorityPlayer)
	assert.Empty(t, ts.LastPlayerToPass)
	assert.Equal(t, 1, ts.Round)
}

func TestTurnStateActionBreaksPassChain(t *testing.T) {
	ts := NewTurnState("alice", "bob")

	ts.Pass("alice")
	ts.RecordAction("bob", true)
	assert.Empty(t, ts.LastPlayerToPass)
	assert.Equal(t, "alice", ts.PriorityPlayer)

	// alice passing now is a first pass again.
	res := ts.Pass("alice")
	assert.False(t, res.Advanced)
	assert.Equal(t, PhaseStrategy, ts.Phase)
}

func TestTurnStateUtilityActionKeepsPriority(t *testing.T) {
	ts := NewTurnState("alice", "bob")
	ts.RecordAction("alice", false)
	assert.Equal(t, "alice", ts.PriorityPlayer)
}

func TestTurnStateRoundWraps(t *testing.T) {
	ts := NewTurnState("alice", "bob")

	expected := []struct {
		phase      Phase
		round      int
		initiative string
	}{
		{PhaseBattle, 1, "bob"},
		{PhaseReplenishment, 1, "alice"},
		{PhaseStrategy, 2, "bob"},
		{PhaseBattle, 2, "alice"},
	}

	for i, exp := range expected {
		phase, _ := ts.AdvancePhase()
		if phase != exp.phase || ts.Round != exp.round || ts.InitiativeHolder != exp.initiative {
			t.Fatalf("advance %d: expected %s/%d/%s, got %s/%d/%s",
				i, exp.phase, exp.round, exp.initiative, phase, ts.Round, ts.InitiativeHolder)
		}
		if ts.PriorityPlayer != ts.InitiativeHolder {
			t.Fatalf("advance %d: priority %s should follow initiative %s", i, ts.PriorityPlayer, ts.InitiativeHolder)
		}
	}
}

func TestPhaseTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[string]Phase{"phase": PhaseReplenishment})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"REPLENISHMENT"}`, string(data))

	var decoded map[string]Phase
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, PhaseReplenishment, decoded["phase"])

	_, err = ParsePhase("combat")
	assert.Error(t, err)
	assert.Equal(t, "PHASE_9", Phase(9).String())
}
