package protocol_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
	"TroveLedger/internal/state"
)

func w(s string) *uint256.Int {
	return fpmath.MustParseWad(s)
}

func zero() *uint256.Int {
	return fpmath.Zero()
}

// zeroFeeParams keeps the arithmetic of scenario tests exact.
func zeroFeeParams() *state.Params {
	p := state.DefaultParams()
	p.BorrowingFeeFloor = fpmath.Zero()
	p.RedemptionFeeFloor = fpmath.Zero()
	return p
}

// harness drives a System the way the core does: one recorder per command,
// the batch applied only when the operation succeeds.
type harness struct {
	t       *testing.T
	sys     *protocol.System
	tracker *ledger.BalanceTracker
	seq     int64
	nowUs   int64
}

func newHarness(t *testing.T, params *state.Params) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		sys:     protocol.NewSystem(params),
		tracker: ledger.NewBalanceTracker(),
		nowUs:   1_700_000_000_000_000,
	}
	h.setPrice("200")
	return h
}

func (h *harness) exec(fn func(tx protocol.Tx) (*protocol.Result, error)) (*protocol.Result, error) {
	h.t.Helper()
	h.seq++
	rec := ledger.NewRecorder(h.tracker, fmt.Sprintf("cmd-%d", h.seq), h.seq, h.nowUs)
	res, err := fn(protocol.Tx{Ledger: rec, NowUs: h.nowUs})
	if err != nil {
		var fatal *protocol.FatalError
		require.NotErrorAs(h.t, err, &fatal, "commit phase failed")
		return nil, err
	}
	batch := rec.Batch()
	require.NoError(h.t, ledger.NewInvariantValidator(h.tracker).ValidateBatchBalance(batch))
	require.NoError(h.t, h.tracker.ApplyBatch(batch))
	return res, nil
}

func (h *harness) must(fn func(tx protocol.Tx) (*protocol.Result, error)) *protocol.Result {
	h.t.Helper()
	res, err := h.exec(fn)
	require.NoError(h.t, err)
	return res
}

func (h *harness) setPrice(price string) {
	h.t.Helper()
	h.seq++
	ok, err := h.sys.UpdatePrice(w(price), h.seq, h.nowUs)
	require.NoError(h.t, err)
	require.True(h.t, ok)
}

func (h *harness) fund(user uuid.UUID, asset ledger.AssetID, amount string) {
	h.t.Helper()
	h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.DepositAsset(tx, user, asset, w(amount))
	})
}

// openTrove funds the owner with coll and opens a Trove borrowing amount.
func (h *harness) openTrove(owner uuid.UUID, coll, amount string) *protocol.Result {
	h.t.Helper()
	h.fund(owner, ledger.AssetCollateral, coll)
	return h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.OpenTrove(tx, openReq(owner, coll, amount))
	})
}

func openReq(owner uuid.UUID, coll, amount string) protocol.OpenTroveRequest {
	return protocol.OpenTroveRequest{Owner: owner, Coll: w(coll), StableAmount: w(amount), MaxFee: w("0.05")}
}

func (h *harness) provide(depositor uuid.UUID, amount string) {
	h.t.Helper()
	h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.ProvideToSP(tx, depositor, w(amount))
	})
}

func (h *harness) liquidate(owner uuid.UUID) *protocol.Result {
	h.t.Helper()
	return h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Liquidate(tx, liquidatorID, owner)
	})
}

func (h *harness) balance(user uuid.UUID, asset ledger.AssetID) *uint256.Int {
	return h.tracker.GetWalletBalance(user, asset)
}

func (h *harness) trove(owner uuid.UUID) protocol.TroveView {
	h.t.Helper()
	v, err := h.sys.Trove(owner)
	require.NoError(h.t, err)
	return v
}

// checkConservation compares every pool account with the protocol state
// that claims it, and the stable supply with the system debt.
func (h *harness) checkConservation() {
	h.t.Helper()
	v := ledger.NewInvariantValidator(h.tracker)
	require.NoError(h.t, v.ValidateSupplyConservation())

	debt, err := h.sys.EntireSystemDebt()
	require.NoError(h.t, err)
	supply := h.tracker.GetSupply(ledger.AssetStable)
	require.Truef(h.t, debt.Eq(supply), "stable supply %s, system debt %s", fpmath.FormatWad(supply), fpmath.FormatWad(debt))

	gasPool := new(uint256.Int).Mul(h.sys.Params.GasCompensation, uint256.NewInt(uint64(h.sys.Troves.ActiveCount())))
	pools := []struct {
		key      ledger.AccountKey
		expected *uint256.Int
	}{
		{ledger.PoolKey(ledger.SubTypeActivePool, ledger.AssetCollateral), h.sys.Active.Coll},
		{ledger.PoolKey(ledger.SubTypeDefaultPool, ledger.AssetCollateral), h.sys.Default.Coll},
		{ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetStable), h.sys.SP.TotalDeposits},
		{ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetCollateral), h.sys.SP.CollBalance},
		{ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetReward), h.sys.SP.RewardBalance},
		{ledger.PoolKey(ledger.SubTypeCollSurplusPool, ledger.AssetCollateral), h.sys.Surplus.Total},
		{ledger.PoolKey(ledger.SubTypeStaking, ledger.AssetReward), h.sys.Staking.TotalStaked},
		{ledger.PoolKey(ledger.SubTypeGasPool, ledger.AssetStable), gasPool},
	}
	for _, p := range pools {
		require.NoError(h.t, v.ValidatePoolBalance(p.key, p.expected))
	}

	// Pending rewards are floored per Trove, so the sum of entire debts may
	// trail the pools by a few wei.
	sum := h.sys.Rewards.DiscardedDebt.Clone()
	for _, owner := range h.sys.Troves.Owners() {
		if h.sys.Troves.Status(owner) != state.TroveStatusActive {
			continue
		}
		amt, err := h.sys.EntireDebtAndColl(owner)
		require.NoError(h.t, err)
		sum.Add(sum, amt.Debt)
	}
	require.Truef(h.t, sum.Cmp(debt) <= 0, "trove debts %s exceed system debt %s", sum.Dec(), debt.Dec())
	assertNear(h.t, debt, sum, 1_000_000, "trove debts")
}

// assertNear checks |got - want| <= tolWei.
func assertNear(t *testing.T, want, got *uint256.Int, tolWei uint64, msg string) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Gt(want) {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	assert.Truef(t, diff.Cmp(uint256.NewInt(tolWei)) <= 0,
		"%s: got %s, want %s (diff %s wei)", msg, fpmath.FormatWad(got), fpmath.FormatWad(want), diff.Dec())
}

func assertWad(t *testing.T, want string, got *uint256.Int, msg string) {
	t.Helper()
	assert.Truef(t, w(want).Eq(got), "%s: got %s, want %s", msg, fpmath.FormatWad(got), want)
}

var liquidatorID = uuid.MustParse("00000000-0000-0000-0000-00000000e12e")
