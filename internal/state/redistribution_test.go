package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

func TestRedistribution_Fairness(t *testing.T) {
	acc := state.NewRedistributionAccumulator()
	genesis := acc.CurrentSnapshot()

	stakes := []string{"10", "20", "30"}
	for _, s := range stakes {
		require.NoError(t, acc.UpdateTotalStakes(fpmath.Zero(), wad(s)))
	}

	applied, err := acc.Redistribute(wad("60"), wad("6"))
	require.NoError(t, err)
	require.True(t, applied)

	wantDebt := []string{"10", "20", "30"}
	wantColl := []string{"1", "2", "3"}
	for i, s := range stakes {
		coll, debt, err := acc.PendingRewards(wad(s), genesis)
		require.NoError(t, err)
		assert.Equal(t, wad(wantDebt[i]), debt, "debt for stake %s", s)
		assert.Equal(t, wad(wantColl[i]), coll, "coll for stake %s", s)
	}
	assert.True(t, acc.HasPendingRewards(genesis))
	assert.False(t, acc.HasPendingRewards(acc.CurrentSnapshot()))
}

func TestRedistribution_ZeroStakesIsNoop(t *testing.T) {
	acc := state.NewRedistributionAccumulator()

	applied, err := acc.Redistribute(wad("5"), wad("1"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, acc.LColl.IsZero())
	assert.True(t, acc.LDebt.IsZero())
	assert.Equal(t, wad("5"), acc.DiscardedDebt)
	assert.Equal(t, wad("1"), acc.DiscardedColl)
}

func TestRedistribution_ErrorCarry(t *testing.T) {
	acc := state.NewRedistributionAccumulator()
	require.NoError(t, acc.UpdateTotalStakes(fpmath.Zero(), wad("3")))
	genesis := acc.CurrentSnapshot()

	// 1/3 per unit leaves a remainder that the next call picks up.
	for i := 0; i < 3; i++ {
		_, err := acc.Redistribute(wad("1"), wad("1"))
		require.NoError(t, err)
	}

	coll, debt, err := acc.PendingRewards(wad("3"), genesis)
	require.NoError(t, err)
	// Without the carry each step loses a third of a wei per unit.
	assertNear(t, wad("3"), coll, 3, "coll")
	assertNear(t, wad("3"), debt, 3, "debt")
	assert.False(t, coll.Gt(wad("3")), "never over-credits")
}

func TestRedistribution_ComputeStake(t *testing.T) {
	acc := state.NewRedistributionAccumulator()

	stake, err := acc.ComputeStake(wad("7"))
	require.NoError(t, err)
	assert.Equal(t, wad("7"), stake, "stake equals collateral before any liquidation")

	require.NoError(t, acc.UpdateTotalStakes(fpmath.Zero(), wad("10")))
	acc.UpdateSnapshots(wad("20"))

	stake, err = acc.ComputeStake(wad("7"))
	require.NoError(t, err)
	assert.Equal(t, wad("3.5"), stake)
}
