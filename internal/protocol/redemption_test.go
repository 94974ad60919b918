package protocol_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TroveLedger/internal/ledger"
	"TroveLedger/internal/protocol"
	"TroveLedger/internal/state"
)

// redemptionSetup opens three Troves ordered a < b < c by collateral ratio.
// c holds 4800 stable to redeem with.
func redemptionSetup(t *testing.T) (h *harness, a, b, c uuid.UUID) {
	h = newHarness(t, zeroFeeParams())
	a, b, c = uuid.New(), uuid.New(), uuid.New()
	h.openTrove(a, "20", "1800")
	h.openTrove(b, "60", "3800")
	h.openTrove(c, "100", "4800")
	return h, a, b, c
}

func redeemReq(redeemer uuid.UUID, amount string) protocol.RedeemRequest {
	return protocol.RedeemRequest{Redeemer: redeemer, Amount: w(amount), MaxFee: w("1")}
}

func TestRedeem_ClosesAndPartiallyRedeems(t *testing.T) {
	h, a, b, c := redemptionSetup(t)

	res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Redeem(tx, redeemReq(c, "2500"))
	})

	r := res.Redemption
	require.NotNil(t, r)
	require.Len(t, r.Troves, 2)
	assert.Equal(t, a, r.Troves[0].Owner)
	assert.True(t, r.Troves[0].Closed)
	assert.Equal(t, b, r.Troves[1].Owner)
	assert.False(t, r.Troves[1].Closed)
	assertWad(t, "2500", r.Redeemed, "redeemed")
	assertWad(t, "12.5", r.CollDrawn, "coll drawn")

	// baseRate = (12.5 * 200 / 11000) / 2
	assertWad(t, "0.113636363636363636", r.BaseRate, "base rate")
	assertWad(t, "1.42045454545454545", r.Fee, "fee")
	assertWad(t, "0.113636363636363636", h.sys.BaseRate.Rate, "stored base rate")

	assertWad(t, "11.07954545454545455", h.balance(c, ledger.AssetCollateral), "redeemer coll")
	assertWad(t, "2300", h.balance(c, ledger.AssetStable), "redeemer stable")

	assert.Equal(t, state.TroveStatusClosedByRedemption, h.sys.Troves.Status(a))
	assertWad(t, "11", h.sys.Surplus.Balance(a), "a surplus")
	tb := h.trove(b)
	assertWad(t, "3300", tb.Debt, "b debt")
	assertWad(t, "56.5", tb.Coll, "b coll")
	assertWad(t, "8300", h.sys.Active.Debt, "active debt")
	assertWad(t, "156.5", h.sys.Active.Coll, "active coll")
	assertWad(t, "1.42045454545454545", h.sys.Staking.UndistributedColl, "fee held for stakers")
	h.checkConservation()

	h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.ClaimCollateral(tx, a)
	})
	assertWad(t, "11", h.balance(a, ledger.AssetCollateral), "claimed surplus")
	h.checkConservation()
}

func TestRedeem_SkipsTrovesBelowMCR(t *testing.T) {
	h, a, b, c := redemptionSetup(t)
	// a: 20 * 105 / 2000 = 1.05
	h.setPrice("105")

	res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		return h.sys.Redeem(tx, redeemReq(c, "500"))
	})
	require.Len(t, res.Redemption.Troves, 1)
	assert.Equal(t, b, res.Redemption.Troves[0].Owner)
	assertWad(t, "4.761904761904761904", res.Redemption.CollDrawn, "coll drawn")
	assertWad(t, "3500", h.trove(b).Debt, "b debt")
	assertWad(t, "2000", h.trove(a).Debt, "a untouched")
	h.checkConservation()
}

func TestRedeem_MaxIterations(t *testing.T) {
	h, a, _, c := redemptionSetup(t)

	res := h.must(func(tx protocol.Tx) (*protocol.Result, error) {
		req := redeemReq(c, "2500")
		req.MaxIterations = 1
		return h.sys.Redeem(tx, req)
	})
	require.Len(t, res.Redemption.Troves, 1)
	assert.Equal(t, a, res.Redemption.Troves[0].Owner)
	assertWad(t, "1800", res.Redemption.Redeemed, "redeemed")
	assertWad(t, "3000", h.balance(c, ledger.AssetStable), "unspent stable")
	h.checkConservation()
}

func TestRedeem_Rejections(t *testing.T) {
	h, _, _, c := redemptionSetup(t)
	before := h.sys.Snapshot()

	redeem := func(req protocol.RedeemRequest) error {
		_, err := h.exec(func(tx protocol.Tx) (*protocol.Result, error) {
			return h.sys.Redeem(tx, req)
		})
		return err
	}

	// Leaves a with 800 net debt, below the minimum
	assert.ErrorIs(t, redeem(redeemReq(c, "1000")), protocol.ErrUnableToRedeem)

	req := redeemReq(c, "2500")
	req.MaxFee = w("0.1")
	assert.ErrorIs(t, redeem(req), protocol.ErrFeeExceedsMax)

	req.MaxFee = w("1.01")
	assert.ErrorIs(t, redeem(req), protocol.ErrInvalidMaxFee)
	assert.ErrorIs(t, redeem(redeemReq(c, "0")), protocol.ErrZeroAmount)
	assert.ErrorIs(t, redeem(redeemReq(c, "4801")), protocol.ErrInsufficientBalance)

	assert.Equal(t, before, h.sys.Snapshot())

	// TCR = 180 * 60 / 11000 = 0.98
	h.setPrice("60")
	assert.ErrorIs(t, redeem(redeemReq(c, "100")), protocol.ErrTCRBelowMCR)
}
