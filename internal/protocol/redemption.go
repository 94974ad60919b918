package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// RedeemRequest swaps up to Amount stable tokens for collateral at face
// value. MaxIterations of zero means unbounded.
type RedeemRequest struct {
	Redeemer      uuid.UUID
	Amount        *uint256.Int
	MaxFee        *uint256.Int
	MaxIterations uint32
}

// RedeemedTrove is one Trove hit by a redemption.
type RedeemedTrove struct {
	Owner     uuid.UUID
	Debt      *uint256.Int
	CollDrawn *uint256.Int
	Closed    bool
}

// RedemptionTotals summarises a redemption.
type RedemptionTotals struct {
	Redeemer  uuid.UUID
	Price     *uint256.Int
	Requested *uint256.Int
	Redeemed  *uint256.Int
	CollDrawn *uint256.Int
	Fee       *uint256.Int
	BaseRate  *uint256.Int
	Troves    []RedeemedTrove
}

// Redeem walks the Troves from the lowest collateral ratio at or above MCR
// upwards, cancelling stable debt and drawing collateral from each.
func (s *System) Redeem(tx Tx, req RedeemRequest) (*Result, error) {
	if err := s.requireValidMaxFee(req.MaxFee, s.Params.RedemptionFeeFloor, false); err != nil {
		return nil, err
	}
	price, err := s.priceFeed().CurrentPrice()
	if err != nil {
		return nil, err
	}
	tcr, err := s.TCR(price)
	if err != nil {
		return nil, err
	}
	if tcr.Lt(s.Params.MCR) {
		return nil, ErrTCRBelowMCR
	}
	if req.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if bal := tx.Ledger.Balance(wallet(req.Redeemer, ledger.AssetStable)); bal.Lt(req.Amount) {
		return nil, fmt.Errorf("redeemer holds %s, wants %s: %w",
			fpmath.FormatWad(bal), fpmath.FormatWad(req.Amount), ErrInsufficientBalance)
	}

	totals := &RedemptionTotals{
		Redeemer:  req.Redeemer,
		Price:     price,
		Requested: req.Amount.Clone(),
		Redeemed:  new(uint256.Int),
		CollDrawn: new(uint256.Int),
	}
	err = s.isolated(func(w *System) error {
		return w.redeem(tx, req, price, totals)
	})
	if err != nil {
		return nil, err
	}

	touched := make([]uuid.UUID, 0, len(totals.Troves)+1)
	for _, r := range totals.Troves {
		touched = append(touched, r.Owner)
	}
	touched = append(touched, req.Redeemer)
	return &Result{Touched: touched, Fee: totals.Fee, Redemption: totals}, nil
}

func (s *System) redeem(tx Tx, req RedeemRequest, price *uint256.Int, totals *RedemptionTotals) error {
	tl := tx.Ledger
	totalDebt, err := s.EntireSystemDebt()
	if err != nil {
		return err
	}

	// Skip Troves below MCR; they are liquidation candidates
	feed := s.riskFeed()
	current, ok := feed.Last()
	for ok {
		icr, err := s.CurrentICR(current, price)
		if err != nil {
			return err
		}
		if !icr.Lt(s.Params.MCR) {
			break
		}
		current, ok = feed.Prev(current)
	}

	remaining := req.Amount.Clone()
	iterations := req.MaxIterations
	for ok && !remaining.IsZero() {
		if req.MaxIterations > 0 {
			if iterations == 0 {
				break
			}
			iterations--
		}
		next, nextOK := feed.Prev(current)

		r, cancelled, err := s.redeemFromTrove(tl, current, remaining, price)
		if err != nil {
			return err
		}
		if cancelled {
			break
		}
		totals.Troves = append(totals.Troves, r)
		totals.Redeemed.Add(totals.Redeemed, r.Debt)
		totals.CollDrawn.Add(totals.CollDrawn, r.CollDrawn)
		remaining.Sub(remaining, r.Debt)
		current, ok = next, nextOK
	}
	if totals.CollDrawn.IsZero() {
		return ErrUnableToRedeem
	}

	// Fee from the raised base rate
	quote, err := s.BaseRate.QuoteRedemption(s.Params, tx.NowUs, totals.CollDrawn, price, totalDebt)
	if err != nil {
		return err
	}
	if err := requireUserAcceptsFee(quote.Fee, totals.CollDrawn, req.MaxFee); err != nil {
		return err
	}
	s.BaseRate.CommitRedemption(quote)
	totals.Fee = quote.Fee
	totals.BaseRate = quote.NewRate

	if err := tl.Transfer(activePoolColl, stakingColl, quote.Fee, ledger.JournalTypeRedemptionFee); err != nil {
		return err
	}
	if err := s.Staking.ReceiveFee(state.FeeKindCollateral, quote.Fee); err != nil {
		return err
	}
	if err := tl.Burn(wallet(req.Redeemer, ledger.AssetStable), totals.Redeemed, ledger.JournalTypeRedemption); err != nil {
		return err
	}
	toRedeemer := new(uint256.Int).Sub(totals.CollDrawn, quote.Fee)
	if err := tl.Transfer(activePoolColl, wallet(req.Redeemer, ledger.AssetCollateral), toRedeemer, ledger.JournalTypeRedemption); err != nil {
		return err
	}
	if err := s.Active.DecreaseDebt(totals.Redeemed); err != nil {
		return err
	}
	return s.Active.DecreaseColl(totals.CollDrawn)
}

// redeemFromTrove takes up to maxAmount of the Trove's net debt. A Trove
// left with only the gas reserve is closed; a partial redemption that would
// leave net debt below the minimum is cancelled.
func (s *System) redeemFromTrove(tl TokenLedger, owner uuid.UUID, maxAmount, price *uint256.Int) (RedeemedTrove, bool, error) {
	if err := s.applyPendingRewards(tl, owner); err != nil {
		return RedeemedTrove{}, false, err
	}
	t := s.Troves.Get(owner)
	gasComp := s.Params.GasCompensation

	net, err := s.netDebt(t.Debt)
	if err != nil {
		return RedeemedTrove{}, false, err
	}
	lot := fpmath.Min(maxAmount, net).Clone()
	collLot, err := fpmath.DecDiv(lot, price)
	if err != nil {
		return RedeemedTrove{}, false, err
	}
	newDebt := new(uint256.Int).Sub(t.Debt, lot)
	newColl, err := fpmath.Sub(t.Coll, collLot)
	if err != nil {
		return RedeemedTrove{}, false, err
	}
	r := RedeemedTrove{Owner: owner, Debt: lot, CollDrawn: collLot}

	if newDebt.Eq(gasComp) {
		if s.Troves.ActiveCount() <= 1 {
			return RedeemedTrove{}, true, nil
		}
		if err := s.closeTrove(owner, t.Stake, state.TroveStatusClosedByRedemption); err != nil {
			return RedeemedTrove{}, false, err
		}
		if err := tl.Burn(gasPoolStable, gasComp, ledger.JournalTypeGasCompRelease); err != nil {
			return RedeemedTrove{}, false, err
		}
		if err := s.Active.DecreaseDebt(gasComp); err != nil {
			return RedeemedTrove{}, false, err
		}
		if err := tl.Transfer(activePoolColl, surplusColl, newColl, ledger.JournalTypeCollSurplus); err != nil {
			return RedeemedTrove{}, false, err
		}
		if err := s.Surplus.AccountSurplus(owner, newColl); err != nil {
			return RedeemedTrove{}, false, err
		}
		if err := s.Active.DecreaseColl(newColl); err != nil {
			return RedeemedTrove{}, false, err
		}
		r.Closed = true
		return r, false, nil
	}

	newNet := new(uint256.Int).Sub(newDebt, gasComp)
	if newNet.Lt(s.Params.MinNetDebt) {
		return RedeemedTrove{}, true, nil
	}
	nicr, err := fpmath.ComputeNominalCR(newColl, newDebt)
	if err != nil {
		return RedeemedTrove{}, false, err
	}
	newStake, err := s.updateStake(t.Stake, newColl)
	if err != nil {
		return RedeemedTrove{}, false, err
	}
	if err := s.Troves.Update(owner, newColl, newDebt, newStake, nicr); err != nil {
		return RedeemedTrove{}, false, err
	}
	return r, false, nil
}
