package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// Result describes what an operation changed. Touched lists the owners,
// depositors and stakers whose records moved.
type Result struct {
	Touched     []uuid.UUID
	Fee         *uint256.Int
	Liquidation *LiquidationTotals
	Redemption  *RedemptionTotals
	Offset      state.OffsetResult
}

// OpenTroveRequest opens a Trove with coll collateral and borrows
// StableAmount before fees.
type OpenTroveRequest struct {
	Owner        uuid.UUID
	Coll         *uint256.Int
	StableAmount *uint256.Int
	MaxFee       *uint256.Int
}

// OpenTrove locks collateral from the owner's wallet and issues stable
// tokens against it. The composite debt is the amount, the borrowing fee
// and the gas compensation reserve.
func (s *System) OpenTrove(tx Tx, req OpenTroveRequest) (*Result, error) {
	price, err := s.priceFeed().CurrentPrice()
	if err != nil {
		return nil, err
	}
	recovery, err := s.IsRecoveryMode(price)
	if err != nil {
		return nil, err
	}
	if err := s.requireValidMaxFee(req.MaxFee, s.Params.BorrowingFeeFloor, recovery); err != nil {
		return nil, err
	}
	if s.Troves.Status(req.Owner) == state.TroveStatusActive {
		return nil, ErrTroveExists
	}
	if req.Coll.IsZero() {
		return nil, fmt.Errorf("collateral: %w", ErrZeroAmount)
	}

	// Step 1: fee and composite debt
	netDebt := req.StableAmount.Clone()
	var quote *state.BorrowingQuote
	if !recovery {
		q, err := s.BaseRate.QuoteBorrowing(s.Params, tx.NowUs, req.StableAmount)
		if err != nil {
			return nil, err
		}
		if err := requireUserAcceptsFee(q.Fee, req.StableAmount, req.MaxFee); err != nil {
			return nil, err
		}
		if netDebt, err = fpmath.Add(netDebt, q.Fee); err != nil {
			return nil, err
		}
		quote = &q
	}
	if netDebt.Lt(s.Params.MinNetDebt) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinNetDebt, fpmath.FormatWad(netDebt), fpmath.FormatWad(s.Params.MinNetDebt))
	}
	compositeDebt, err := fpmath.Add(netDebt, s.Params.GasCompensation)
	if err != nil {
		return nil, err
	}

	// Step 2: collateral ratio checks
	icr, err := fpmath.ComputeCR(req.Coll, compositeDebt, price)
	if err != nil {
		return nil, err
	}
	nicr, err := fpmath.ComputeNominalCR(req.Coll, compositeDebt)
	if err != nil {
		return nil, err
	}
	if recovery {
		if icr.Lt(s.Params.CCR) {
			return nil, ErrICRBelowCCR
		}
	} else {
		if icr.Lt(s.Params.MCR) {
			return nil, ErrICRBelowMCR
		}
		tcr, err := s.newTCR(price, req.Coll, true, compositeDebt, true)
		if err != nil {
			return nil, err
		}
		if tcr.Lt(s.Params.CCR) {
			return nil, ErrTCRBelowCCR
		}
	}
	stake, err := s.Rewards.ComputeStake(req.Coll)
	if err != nil {
		return nil, err
	}

	// Step 3: stage token movements
	fee := fpmath.Zero()
	if quote != nil {
		fee = quote.Fee
	}
	tl := tx.Ledger
	if err := tl.Transfer(wallet(req.Owner, ledger.AssetCollateral), activePoolColl, req.Coll, ledger.JournalTypeCollateralLock); err != nil {
		return nil, err
	}
	if err := tl.Mint(wallet(req.Owner, ledger.AssetStable), req.StableAmount, ledger.JournalTypeDebtIssue); err != nil {
		return nil, err
	}
	if err := tl.Mint(stakingStable, fee, ledger.JournalTypeBorrowingFee); err != nil {
		return nil, err
	}
	if err := tl.Mint(gasPoolStable, s.Params.GasCompensation, ledger.JournalTypeGasCompReserve); err != nil {
		return nil, err
	}

	// Step 4: commit
	if quote != nil {
		s.BaseRate.CommitBorrowing(*quote)
	}
	if err := s.Staking.ReceiveFee(state.FeeKindStable, fee); err != nil {
		return nil, fatal("open trove", err)
	}
	if err := s.Troves.Open(req.Owner, req.Coll, compositeDebt, stake, s.Rewards.CurrentSnapshot(), nicr); err != nil {
		return nil, fatal("open trove", err)
	}
	if err := s.Rewards.UpdateTotalStakes(fpmath.Zero(), stake); err != nil {
		return nil, fatal("open trove", err)
	}
	if err := s.Active.IncreaseColl(req.Coll); err != nil {
		return nil, fatal("open trove", err)
	}
	if err := s.Active.IncreaseDebt(compositeDebt); err != nil {
		return nil, fatal("open trove", err)
	}
	return &Result{Touched: []uuid.UUID{req.Owner}, Fee: fee}, nil
}

// AdjustTroveRequest changes a Trove's collateral and/or debt. At most one of
// CollDeposit and CollWithdrawal may be non-zero.
type AdjustTroveRequest struct {
	Owner          uuid.UUID
	CollDeposit    *uint256.Int
	CollWithdrawal *uint256.Int
	DebtChange     *uint256.Int
	DebtIncrease   bool
	MaxFee         *uint256.Int
}

// AdjustTrove adjusts the owner's Trove with collateral from their wallet.
func (s *System) AdjustTrove(tx Tx, req AdjustTroveRequest) (*Result, error) {
	return s.adjustTrove(tx, req, wallet(req.Owner, ledger.AssetCollateral))
}

type adjustment struct {
	coll, debt    *uint256.Int // after the change
	stake, nicr   *uint256.Int
	netDebtChange *uint256.Int
	quote         *state.BorrowingQuote
	collChange    *uint256.Int
	collIncrease  bool
}

// adjustTrove takes deposited collateral from collSource.
func (s *System) adjustTrove(tx Tx, req AdjustTroveRequest, collSource ledger.AccountKey) (*Result, error) {
	price, err := s.priceFeed().CurrentPrice()
	if err != nil {
		return nil, err
	}
	recovery, err := s.IsRecoveryMode(price)
	if err != nil {
		return nil, err
	}

	if req.DebtIncrease {
		if err := s.requireValidMaxFee(req.MaxFee, s.Params.BorrowingFeeFloor, recovery); err != nil {
			return nil, err
		}
		if req.DebtChange.IsZero() {
			return nil, ErrZeroDebtChange
		}
	}
	if !req.CollDeposit.IsZero() && !req.CollWithdrawal.IsZero() {
		return nil, ErrSingularCollChange
	}
	if req.CollDeposit.IsZero() && req.CollWithdrawal.IsZero() && req.DebtChange.IsZero() {
		return nil, ErrZeroAdjustment
	}
	amt, err := s.EntireDebtAndColl(req.Owner)
	if err != nil {
		return nil, err
	}

	adj, err := s.computeAdjustment(tx, req, amt, price, recovery)
	if err != nil {
		return nil, err
	}

	// Stage token movements
	tl := tx.Ledger
	if err := tl.Transfer(defaultPoolColl, activePoolColl, amt.PendingColl, ledger.JournalTypePendingRewardPull); err != nil {
		return nil, err
	}
	if adj.collIncrease {
		if err := tl.Transfer(collSource, activePoolColl, adj.collChange, ledger.JournalTypeCollateralLock); err != nil {
			return nil, err
		}
	} else {
		if err := tl.Transfer(activePoolColl, wallet(req.Owner, ledger.AssetCollateral), adj.collChange, ledger.JournalTypeCollateralRelease); err != nil {
			return nil, err
		}
	}
	fee := fpmath.Zero()
	if adj.quote != nil {
		fee = adj.quote.Fee
	}
	if req.DebtIncrease {
		if err := tl.Mint(wallet(req.Owner, ledger.AssetStable), req.DebtChange, ledger.JournalTypeDebtIssue); err != nil {
			return nil, err
		}
		if err := tl.Mint(stakingStable, fee, ledger.JournalTypeBorrowingFee); err != nil {
			return nil, err
		}
	} else {
		if err := tl.Burn(wallet(req.Owner, ledger.AssetStable), req.DebtChange, ledger.JournalTypeDebtRepay); err != nil {
			return nil, err
		}
	}

	// Commit
	const op = "adjust trove"
	if err := s.commitPendingRewards(req.Owner, amt); err != nil {
		return nil, fatal(op, err)
	}
	if adj.quote != nil {
		s.BaseRate.CommitBorrowing(*adj.quote)
	}
	if err := s.Staking.ReceiveFee(state.FeeKindStable, fee); err != nil {
		return nil, fatal(op, err)
	}
	if err := s.Rewards.UpdateTotalStakes(amt.Stake, adj.stake); err != nil {
		return nil, fatal(op, err)
	}
	if err := s.Troves.Update(req.Owner, adj.coll, adj.debt, adj.stake, adj.nicr); err != nil {
		return nil, fatal(op, err)
	}
	if adj.collIncrease {
		err = s.Active.IncreaseColl(adj.collChange)
	} else {
		err = s.Active.DecreaseColl(adj.collChange)
	}
	if err != nil {
		return nil, fatal(op, err)
	}
	if req.DebtIncrease {
		err = s.Active.IncreaseDebt(adj.netDebtChange)
	} else {
		err = s.Active.DecreaseDebt(adj.netDebtChange)
	}
	if err != nil {
		return nil, fatal(op, err)
	}
	return &Result{Touched: []uuid.UUID{req.Owner}, Fee: fee}, nil
}

func (s *System) computeAdjustment(tx Tx, req AdjustTroveRequest, amt TroveAmounts, price *uint256.Int, recovery bool) (*adjustment, error) {
	adj := &adjustment{netDebtChange: req.DebtChange.Clone()}
	if !req.CollDeposit.IsZero() {
		adj.collChange, adj.collIncrease = req.CollDeposit.Clone(), true
	} else {
		adj.collChange = req.CollWithdrawal.Clone()
	}

	if req.DebtIncrease && !recovery {
		q, err := s.BaseRate.QuoteBorrowing(s.Params, tx.NowUs, req.DebtChange)
		if err != nil {
			return nil, err
		}
		if err := requireUserAcceptsFee(q.Fee, req.DebtChange, req.MaxFee); err != nil {
			return nil, err
		}
		if adj.netDebtChange, err = fpmath.Add(adj.netDebtChange, q.Fee); err != nil {
			return nil, err
		}
		adj.quote = &q
	}

	if req.CollWithdrawal.Gt(amt.Coll) {
		return nil, fmt.Errorf("withdrawal %s exceeds collateral %s: %w",
			fpmath.FormatWad(req.CollWithdrawal), fpmath.FormatWad(amt.Coll), ErrInsufficientBalance)
	}

	var err error
	if adj.collIncrease {
		adj.coll, err = fpmath.Add(amt.Coll, adj.collChange)
	} else {
		adj.coll, err = fpmath.Sub(amt.Coll, adj.collChange)
	}
	if err != nil {
		return nil, err
	}
	if req.DebtIncrease {
		adj.debt, err = fpmath.Add(amt.Debt, adj.netDebtChange)
	} else {
		if !req.DebtChange.IsZero() {
			if err := s.requireValidRepayment(amt.Debt, req.DebtChange); err != nil {
				return nil, err
			}
		}
		adj.debt, err = fpmath.Sub(amt.Debt, adj.netDebtChange)
	}
	if err != nil {
		return nil, err
	}

	oldICR, err := fpmath.ComputeCR(amt.Coll, amt.Debt, price)
	if err != nil {
		return nil, err
	}
	newICR, err := fpmath.ComputeCR(adj.coll, adj.debt, price)
	if err != nil {
		return nil, err
	}
	if recovery {
		if !req.CollWithdrawal.IsZero() {
			return nil, ErrCollWithdrawalInRM
		}
		if req.DebtIncrease {
			if newICR.Lt(s.Params.CCR) {
				return nil, ErrICRBelowCCR
			}
			if newICR.Lt(oldICR) {
				return nil, ErrICRDecreasedInRM
			}
		}
	} else {
		if newICR.Lt(s.Params.MCR) {
			return nil, ErrICRBelowMCR
		}
		tcr, err := s.newTCR(price, adj.collChange, adj.collIncrease, adj.netDebtChange, req.DebtIncrease)
		if err != nil {
			return nil, err
		}
		if tcr.Lt(s.Params.CCR) {
			return nil, ErrTCRBelowCCR
		}
	}

	if adj.stake, err = s.Rewards.ComputeStake(adj.coll); err != nil {
		return nil, err
	}
	if adj.nicr, err = fpmath.ComputeNominalCR(adj.coll, adj.debt); err != nil {
		return nil, err
	}
	return adj, nil
}

// requireValidRepayment keeps the gas reserve and the minimum net debt.
func (s *System) requireValidRepayment(debt, repay *uint256.Int) error {
	net, err := s.netDebt(debt)
	if err != nil {
		return err
	}
	if repay.Gt(net) {
		return ErrRepayExceedsDebt
	}
	remaining := new(uint256.Int).Sub(net, repay)
	if remaining.Lt(s.Params.MinNetDebt) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinNetDebt, fpmath.FormatWad(remaining), fpmath.FormatWad(s.Params.MinNetDebt))
	}
	return nil
}

// commitPendingRewards books rewards already staged by the caller.
func (s *System) commitPendingRewards(owner uuid.UUID, amt TroveAmounts) error {
	t := s.Troves.Get(owner)
	if t == nil || !s.Rewards.HasPendingRewards(t.Snapshot) {
		return nil
	}
	if err := s.movePendingToActive(amt.PendingColl, amt.PendingDebt); err != nil {
		return err
	}
	return s.Troves.ApplyRewards(owner, amt.PendingColl, amt.PendingDebt, s.Rewards.CurrentSnapshot())
}

// CloseTrove repays the owner's debt from their wallet, burns the gas
// reserve and returns all collateral. Not permitted in recovery mode.
func (s *System) CloseTrove(tx Tx, owner uuid.UUID) (*Result, error) {
	amt, err := s.EntireDebtAndColl(owner)
	if err != nil {
		return nil, err
	}
	price, err := s.priceFeed().CurrentPrice()
	if err != nil {
		return nil, err
	}
	recovery, err := s.IsRecoveryMode(price)
	if err != nil {
		return nil, err
	}
	if recovery {
		return nil, ErrRecoveryMode
	}
	repay, err := s.netDebt(amt.Debt)
	if err != nil {
		return nil, err
	}
	tcr, err := s.newTCR(price, amt.Coll, false, amt.Debt, false)
	if err != nil {
		return nil, err
	}
	if tcr.Lt(s.Params.CCR) {
		return nil, ErrTCRBelowCCR
	}
	if s.Troves.ActiveCount() <= 1 {
		return nil, ErrOnlyOneTrove
	}

	tl := tx.Ledger
	if err := tl.Transfer(defaultPoolColl, activePoolColl, amt.PendingColl, ledger.JournalTypePendingRewardPull); err != nil {
		return nil, err
	}
	if err := tl.Burn(wallet(owner, ledger.AssetStable), repay, ledger.JournalTypeDebtRepay); err != nil {
		return nil, err
	}
	if err := tl.Burn(gasPoolStable, s.Params.GasCompensation, ledger.JournalTypeGasCompRelease); err != nil {
		return nil, err
	}
	if err := tl.Transfer(activePoolColl, wallet(owner, ledger.AssetCollateral), amt.Coll, ledger.JournalTypeCollateralRelease); err != nil {
		return nil, err
	}

	const op = "close trove"
	if err := s.commitPendingRewards(owner, amt); err != nil {
		return nil, fatal(op, err)
	}
	if err := s.closeTrove(owner, amt.Stake, state.TroveStatusClosedByOwner); err != nil {
		return nil, fatal(op, err)
	}
	if err := s.Active.DecreaseDebt(amt.Debt); err != nil {
		return nil, fatal(op, err)
	}
	if err := s.Active.DecreaseColl(amt.Coll); err != nil {
		return nil, fatal(op, err)
	}
	return &Result{Touched: []uuid.UUID{owner}}, nil
}

// ClaimCollateral pays out the owner's surplus collateral.
func (s *System) ClaimCollateral(tx Tx, owner uuid.UUID) (*Result, error) {
	amount := s.Surplus.Balance(owner)
	if amount.IsZero() {
		return nil, ErrNoSurplus
	}
	if err := tx.Ledger.Transfer(surplusColl, wallet(owner, ledger.AssetCollateral), amount, ledger.JournalTypeCollSurplusClaim); err != nil {
		return nil, err
	}
	if _, err := s.Surplus.Claim(owner); err != nil {
		return nil, fatal("claim collateral", err)
	}
	return &Result{Touched: []uuid.UUID{owner}}, nil
}
