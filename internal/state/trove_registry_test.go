package state_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TroveLedger/internal/state"
)

func openTrove(t *testing.T, tr *state.TroveRegistry, owner uuid.UUID, coll, debt, nicr string) {
	t.Helper()
	snap := state.NewRedistributionAccumulator().CurrentSnapshot()
	require.NoError(t, tr.Open(owner, wad(coll), wad(debt), wad(coll), snap, wad(nicr)))
}

func TestTroveRegistry_Lifecycle(t *testing.T) {
	tr := state.NewTroveRegistry()
	a, b := uuid.New(), uuid.New()

	openTrove(t, tr, a, "10", "2000", "0.5")
	openTrove(t, tr, b, "20", "2000", "1")
	assert.Equal(t, 2, tr.ActiveCount())

	err := tr.Open(a, wad("1"), wad("1"), wad("1"), state.NewRedistributionAccumulator().CurrentSnapshot(), wad("1"))
	require.ErrorIs(t, err, state.ErrTroveExists)

	require.NoError(t, tr.Close(a, state.TroveStatusClosedByOwner))
	assert.Equal(t, state.TroveStatusClosedByOwner, tr.Status(a))
	assert.True(t, tr.Get(a).Debt.IsZero())

	// The last Trove stays open.
	require.ErrorIs(t, tr.Close(b, state.TroveStatusClosedByLiquidation), state.ErrOnlyOneTrove)

	// A closed Trove can be reopened.
	openTrove(t, tr, a, "5", "2000", "0.25")
	assert.Equal(t, state.TroveStatusActive, tr.Status(a))
	assert.Equal(t, int64(3), tr.Get(a).Version)
}

func TestTroveRegistry_ApplyRewards(t *testing.T) {
	tr := state.NewTroveRegistry()
	a := uuid.New()
	openTrove(t, tr, a, "10", "2000", "0.5")

	acc := state.NewRedistributionAccumulator()
	require.NoError(t, tr.ApplyRewards(a, wad("1"), wad("100"), acc.CurrentSnapshot()))

	got := tr.Get(a)
	assert.Equal(t, wad("11"), got.Coll)
	assert.Equal(t, wad("2100"), got.Debt)

	require.ErrorIs(t, tr.ApplyRewards(uuid.New(), wad("1"), wad("1"), acc.CurrentSnapshot()), state.ErrTroveNotActive)
}

func TestTroveStatus_Transitions(t *testing.T) {
	assert.True(t, state.TroveStatusActive.CanTransitionTo(state.TroveStatusClosedByRedemption))
	assert.False(t, state.TroveStatusNonExistent.CanTransitionTo(state.TroveStatusClosedByOwner))
	assert.False(t, state.TroveStatusActive.CanTransitionTo(state.TroveStatusActive))
	assert.Equal(t, "ClosedByLiquidation", state.TroveStatusClosedByLiquidation.String())
}
