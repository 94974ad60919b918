package protocol_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TroveLedger/internal/ledger"
	"TroveLedger/internal/protocol"
	"TroveLedger/internal/state"
)

func TestLiquidate_RedistributesWithEmptyPool(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.openTrove(a, "30", "1800")
	h.openTrove(b, "60", "3800")
	h.openTrove(c, "90", "5800")
	h.openTrove(d, "12", "1800")

	// d: 12 * 150 / 2000 = 0.9
	h.setPrice("150")
	res := h.liquidate(d)

	require.NotNil(t, res.Liquidation)
	require.Len(t, res.Liquidation.Troves, 1)
	l := res.Liquidation.Troves[0]
	assert.Equal(t, protocol.ModeNormal, l.Mode)
	assertWad(t, "2000", l.DebtRedistributed, "debt redistributed")
	assertWad(t, "11.94", l.CollRedistributed, "coll redistributed")
	assert.True(t, l.DebtOffset.IsZero())
	assert.False(t, res.Liquidation.Discarded)
	assert.Equal(t, state.TroveStatusClosedByLiquidation, h.sys.Troves.Status(d))
	assert.Contains(t, res.Touched, d)
	assert.Contains(t, res.Touched, liquidatorID)

	// Liquidator is paid the gas reserve and 0.5% of the collateral
	assertWad(t, "200", h.balance(liquidatorID, ledger.AssetStable), "stable gas comp")
	assertWad(t, "0.06", h.balance(liquidatorID, ledger.AssetCollateral), "coll gas comp")

	// Pending rewards split 1:2:3 by stake
	pa, pb, pc := h.trove(a), h.trove(b), h.trove(c)
	assert.Equal(t, "333333333333333333330", pa.PendingDebt.Dec())
	assert.True(t, pb.PendingDebt.Eq(new(uint256.Int).Mul(pa.PendingDebt, uint256.NewInt(2))))
	assert.True(t, pc.PendingDebt.Eq(new(uint256.Int).Mul(pa.PendingDebt, uint256.NewInt(3))))
	assert.True(t, pb.PendingColl.Eq(new(uint256.Int).Mul(pa.PendingColl, uint256.NewInt(2))))
	assert.True(t, pc.PendingColl.Eq(new(uint256.Int).Mul(pa.PendingColl, uint256.NewInt(3))))
	assertNear(t, w("1.99"), pa.PendingColl, 100, "a pending coll")

	assertWad(t, "2000", h.sys.Default.Debt, "default debt")
	assertWad(t, "11.94", h.sys.Default.Coll, "default coll")
	assertWad(t, "180", h.sys.Active.Coll, "active coll")
	assertWad(t, "180", h.sys.Rewards.TotalStakesSnapshot, "stakes snapshot")
	assertWad(t, "191.94", h.sys.Rewards.TotalCollateralSnapshot, "collateral snapshot")
	h.checkConservation()

	// Touching a Trove pulls its rewards and rescales its stake
	h.fund(a, ledger.AssetCollateral, "1")
	h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		req := adjustReq(a)
		req.CollDeposit = w("1")
		return h.sys.AdjustTrove(tx, req)
	})
	after := h.trove(a)
	assert.True(t, after.PendingDebt.IsZero())
	assert.True(t, after.RecordedDebt.Eq(new(uint256.Int).Add(w("2000"), pa.PendingDebt)))
	assert.True(t, after.RecordedColl.Eq(new(uint256.Int).Add(w("31"), pa.PendingColl)))
	assert.True(t, after.Stake.Lt(after.RecordedColl))
	h.checkConservation()
}

func TestLiquidate_OffsetsAgainstStabilityPool(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b, d := uuid.New(), uuid.New(), uuid.New()
	h.openTrove(a, "30", "1800")
	h.openTrove(b, "60", "3800")
	h.openTrove(d, "12", "1800")
	h.provide(a, "500")
	h.provide(b, "3000")

	h.setPrice("150")
	res := h.liquidate(d)

	l := res.Liquidation.Troves[0]
	assertWad(t, "2000", l.DebtOffset, "debt offset")
	assertWad(t, "11.94", l.CollToSP, "coll to pool")
	assert.True(t, l.DebtRedistributed.IsZero())
	assert.True(t, res.Offset.Applied)
	assert.True(t, h.sys.Default.Debt.IsZero())

	da, err := h.sys.Deposit(a)
	require.NoError(t, err)
	db, err := h.sys.Deposit(b)
	require.NoError(t, err)

	// Shares follow the 1:6 deposit ratio exactly
	assert.True(t, db.CollGain.Eq(new(uint256.Int).Mul(da.CollGain, uint256.NewInt(6))))
	assert.True(t, db.Compounded.Eq(new(uint256.Int).Mul(da.Compounded, uint256.NewInt(6))))
	assertNear(t, w("11.94"), new(uint256.Int).Add(da.CollGain, db.CollGain), 10_000, "gains")
	assertNear(t, w("1500"), new(uint256.Int).Add(da.Compounded, db.Compounded), 10_000, "deposits")
	assertWad(t, "1500", h.sys.SP.TotalDeposits, "total deposits")
	assertWad(t, "11.94", h.sys.SP.CollBalance, "pool coll")
	h.checkConservation()
}

func TestLiquidate_PartialOffsetEmptiesPool(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b, d := uuid.New(), uuid.New(), uuid.New()
	h.openTrove(a, "30", "1800")
	h.openTrove(b, "60", "3800")
	h.openTrove(d, "12", "1800")
	h.provide(b, "1000")

	h.setPrice("150")
	res := h.liquidate(d)

	l := res.Liquidation.Troves[0]
	assertWad(t, "1000", l.DebtOffset, "debt offset")
	assertWad(t, "5.97", l.CollToSP, "coll to pool")
	assertWad(t, "1000", l.DebtRedistributed, "debt redistributed")
	assertWad(t, "5.97", l.CollRedistributed, "coll redistributed")
	assert.True(t, res.Offset.EpochAdvanced)
	assert.Equal(t, uint64(1), h.sys.SP.CurrentEpoch)

	db, err := h.sys.Deposit(b)
	require.NoError(t, err)
	assert.True(t, db.Compounded.IsZero())
	assertWad(t, "5.97", db.CollGain, "gain survives the wipeout")
	h.checkConservation()

	// Withdrawing zero claims the gain and drops the deposit
	h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.WithdrawFromSP(tx, b, zero())
	})
	assertWad(t, "5.97", h.balance(b, ledger.AssetCollateral), "claimed gain")
	_, err = h.sys.Deposit(b)
	assert.ErrorIs(t, err, protocol.ErrNoDeposit)
	h.checkConservation()
}

func TestLiquidate_Rejections(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b := uuid.New(), uuid.New()
	h.openTrove(a, "30", "1800")

	_, err := h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Liquidate(tx, liquidatorID, a)
	})
	assert.ErrorIs(t, err, protocol.ErrOnlyOneTrove)

	h.openTrove(b, "30", "1800")
	_, err = h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Liquidate(tx, liquidatorID, a)
	})
	assert.ErrorIs(t, err, protocol.ErrNothingToLiquidate)

	_, err = h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Liquidate(tx, liquidatorID, uuid.New())
	})
	assert.ErrorIs(t, err, protocol.ErrTroveNotActive)
}

func TestLiquidateBatch_StopsAtFirstHealthyTrove(t *testing.T) {
	setup := func(t *testing.T) (*harness, []uuid.UUID) {
		h := newHarness(t, zeroFeeParams())
		a, b, d1, d2 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
		h.openTrove(a, "30", "1800")
		h.openTrove(b, "60", "3800")
		h.openTrove(d1, "12", "1800")
		h.openTrove(d2, "12.5", "1800")
		h.setPrice("150")
		return h, []uuid.UUID{a, b, d1, d2}
	}

	t.Run("unbounded", func(t *testing.T) {
		h, ids := setup(t)
		res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
			return h.sys.LiquidateBatch(tx, liquidatorID, 0)
		})
		require.Len(t, res.Liquidation.Troves, 2)
		assert.Equal(t, ids[2], res.Liquidation.Troves[0].Owner)
		assert.Equal(t, ids[3], res.Liquidation.Troves[1].Owner)
		assertWad(t, "4000", res.Liquidation.Debt, "aggregate debt")
		assertWad(t, "400", h.balance(liquidatorID, ledger.AssetStable), "stable gas comp")
		assertWad(t, "0.1225", h.balance(liquidatorID, ledger.AssetCollateral), "coll gas comp")
		assert.Equal(t, 2, h.sys.Troves.ActiveCount())
		h.checkConservation()

		// Nothing left; the failed sweep leaves no trace
		before := h.sys.Snapshot()
		_, err := h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
			return h.sys.LiquidateBatch(tx, liquidatorID, 0)
		})
		assert.ErrorIs(t, err, protocol.ErrNothingToLiquidate)
		assert.Equal(t, before, h.sys.Snapshot())
	})

	t.Run("bounded", func(t *testing.T) {
		h, ids := setup(t)
		res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
			return h.sys.LiquidateBatch(tx, liquidatorID, 1)
		})
		require.Len(t, res.Liquidation.Troves, 1)
		assert.Equal(t, ids[2], res.Liquidation.Troves[0].Owner)
		assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(ids[3]))
		h.checkConservation()
	})
}

func TestLiquidate_RecoveryModeCappedOffset(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	h.openTrove(b, "24", "1800")
	h.openTrove(c, "100", "9800")
	h.openTrove(a, "16", "1800")
	h.provide(c, "5000")

	// TCR = 140 * 140 / 14000 = 1.4; a sits at 1.12, c at 1.4
	h.setPrice("140")
	recovery, err := h.sys.IsRecoveryMode(w("140"))
	require.NoError(t, err)
	require.True(t, recovery)

	// ICR equal to TCR is not liquidatable in recovery mode
	_, err = h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Liquidate(tx, liquidatorID, c)
	})
	assert.ErrorIs(t, err, protocol.ErrNothingToLiquidate)

	res := h.liquidate(a)
	l := res.Liquidation.Troves[0]
	assert.Equal(t, protocol.ModeRecovery, l.Mode)
	assert.True(t, res.Liquidation.RecoveryMode)
	// The pool takes collateral worth 1.1 * 2000 at 140
	assertWad(t, "2000", l.DebtOffset, "debt offset")
	assertWad(t, "0.078571428571428571", l.CollGasComp, "coll gas comp")
	assertWad(t, "15.635714285714285714", l.CollToSP, "coll to pool")
	assertWad(t, "0.285714285714285715", l.CollSurplus, "surplus")
	assert.True(t, l.DebtRedistributed.IsZero())
	assertWad(t, "0.285714285714285715", h.sys.Surplus.Balance(a), "surplus balance")
	assertWad(t, "3000", h.sys.SP.TotalDeposits, "pool after offset")
	h.checkConservation()

	h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.ClaimCollateral(tx, a)
	})
	assertWad(t, "0.285714285714285715", h.balance(a, ledger.AssetCollateral), "claimed")
	_, err = h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.ClaimCollateral(tx, a)
	})
	assert.ErrorIs(t, err, protocol.ErrNoSurplus)
	h.checkConservation()
}

func TestLiquidate_RecoveryModeBelowOneRedistributes(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b, d := uuid.New(), uuid.New(), uuid.New()
	h.openTrove(a, "30", "1800")
	h.openTrove(b, "30", "1800")
	h.openTrove(d, "12", "1800")
	h.provide(a, "1000")

	// TCR = 72 * 80 / 6000 = 0.96; d at 0.48 skips the pool entirely
	h.setPrice("80")
	res := h.liquidate(d)
	l := res.Liquidation.Troves[0]
	assert.Equal(t, protocol.ModeRecovery, l.Mode)
	assert.True(t, l.DebtOffset.IsZero())
	assertWad(t, "2000", l.DebtRedistributed, "debt redistributed")
	assertWad(t, "11.94", l.CollRedistributed, "coll redistributed")
	assertWad(t, "1000", h.sys.SP.TotalDeposits, "pool untouched")
	h.checkConservation()
}

func TestLiquidateBatch_RecoveryModeSkipsOversizedTrove(t *testing.T) {
	setup := func(t *testing.T, pool string) (*harness, uuid.UUID, uuid.UUID, uuid.UUID) {
		h := newHarness(t, zeroFeeParams())
		x, y, z := uuid.New(), uuid.New(), uuid.New()
		h.openTrove(z, "150", "9800")
		h.openTrove(y, "24", "1800")
		h.openTrove(x, "57.5", "4800")
		if pool != "" {
			h.provide(z, pool)
		}
		// TCR = 231.5 * 100 / 17000 = 1.36; x at 1.15, y at 1.2, z at 1.5
		h.setPrice("100")
		recovery, err := h.sys.IsRecoveryMode(w("100"))
		require.NoError(t, err)
		require.True(t, recovery)
		return h, x, y, z
	}

	t.Run("debt above pool is skipped", func(t *testing.T) {
		h, x, y, z := setup(t, "3000")
		res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
			return h.sys.LiquidateBatch(tx, liquidatorID, 0)
		})
		require.Len(t, res.Liquidation.Troves, 1)
		l := res.Liquidation.Troves[0]
		assert.Equal(t, y, l.Owner)
		assert.Equal(t, protocol.ModeRecovery, l.Mode)
		assertWad(t, "2000", l.DebtOffset, "debt offset")
		assertWad(t, "21.89", l.CollToSP, "coll to pool")
		assertWad(t, "2", l.CollSurplus, "surplus")

		assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(x))
		assert.Equal(t, state.TroveStatusClosedByLiquidation, h.sys.Troves.Status(y))
		assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(z))
		assertWad(t, "1000", h.sys.SP.TotalDeposits, "pool after offset")
		assertWad(t, "0.11", h.balance(liquidatorID, ledger.AssetCollateral), "coll gas comp")
		h.checkConservation()
	})

	t.Run("empty pool stops at first trove above MCR", func(t *testing.T) {
		h, x, y, _ := setup(t, "")
		before := h.sys.Snapshot()
		_, err := h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
			return h.sys.LiquidateBatch(tx, liquidatorID, 0)
		})
		assert.ErrorIs(t, err, protocol.ErrNothingToLiquidate)
		assert.Equal(t, before, h.sys.Snapshot())
		assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(x))
		assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(y))
	})
}

func TestLiquidateBatch_LeavesRecoveryModeMidSweep(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.openTrove(d, "200", "11800")
	h.openTrove(a, "105", "9800")
	h.openTrove(b, "21.6", "1800")
	h.openTrove(c, "24", "1800")
	h.provide(d, "11800")
	h.provide(a, "2200")

	// TCR = 350.6 * 100 / 26000 = 1.35. Offsetting a lifts it to
	// 245.6 * 100 / 16000 = 1.535, so b falls under normal-mode rules and the
	// sweep stops at c (1.2) although recovery mode would have taken it.
	h.setPrice("100")
	recovery, err := h.sys.IsRecoveryMode(w("100"))
	require.NoError(t, err)
	require.True(t, recovery)

	res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.LiquidateBatch(tx, liquidatorID, 0)
	})
	assert.True(t, res.Liquidation.RecoveryMode)
	require.Len(t, res.Liquidation.Troves, 2)

	first, second := res.Liquidation.Troves[0], res.Liquidation.Troves[1]
	assert.Equal(t, a, first.Owner)
	assert.Equal(t, protocol.ModeRecovery, first.Mode)
	assertWad(t, "10000", first.DebtOffset, "a debt offset")
	assertWad(t, "104.475", first.CollToSP, "a coll to pool")

	assert.Equal(t, b, second.Owner)
	assert.Equal(t, protocol.ModeNormal, second.Mode)
	assertWad(t, "2000", second.DebtOffset, "b debt offset")
	assertWad(t, "21.492", second.CollToSP, "b coll to pool")
	assert.True(t, second.CollSurplus.IsZero())

	assertWad(t, "12000", res.Liquidation.Debt, "aggregate debt")
	assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(c))
	assert.Equal(t, state.TroveStatusActive, h.sys.Troves.Status(d))
	assertWad(t, "2000", h.sys.SP.TotalDeposits, "pool after sweep")
	recovery, err = h.sys.IsRecoveryMode(w("100"))
	require.NoError(t, err)
	assert.False(t, recovery)
	h.checkConservation()
}
