package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// Tx carries the per-command collaborators of an operation.
type Tx struct {
	Ledger TokenLedger
	NowUs  int64 // versioned command time, drives base rate decay
}

// System is the complete protocol state. Every exported operation either
// applies fully or returns an error with the state untouched; single-Trove
// operations validate and stage token movements before committing, and
// multi-Trove operations run on a copy that replaces the receiver on
// success.
type System struct {
	Params   *state.Params
	Troves   *state.TroveRegistry
	Rewards  *state.RedistributionAccumulator
	Active   *state.Pool
	Default  *state.Pool
	SP       *state.StabilityPool
	Staking  *state.FeeStaking
	BaseRate *state.BaseRate
	Surplus  *state.CollSurplusPool
	Oracle   *state.Oracle
}

func NewSystem(params *state.Params) *System {
	return &System{
		Params:   params.Clone(),
		Troves:   state.NewTroveRegistry(),
		Rewards:  state.NewRedistributionAccumulator(),
		Active:   state.NewPool("active_pool"),
		Default:  state.NewPool("default_pool"),
		SP:       state.NewStabilityPool(),
		Staking:  state.NewFeeStaking(),
		BaseRate: state.NewBaseRate(),
		Surplus:  state.NewCollSurplusPool(),
		Oracle:   state.NewOracle(),
	}
}

// Clone returns a deep copy.
func (s *System) Clone() *System {
	return &System{
		Params:   s.Params.Clone(),
		Troves:   s.Troves.Clone(),
		Rewards:  s.Rewards.Clone(),
		Active:   s.Active.Clone(),
		Default:  s.Default.Clone(),
		SP:       s.SP.Clone(),
		Staking:  s.Staking.Clone(),
		BaseRate: s.BaseRate.Clone(),
		Surplus:  s.Surplus.Clone(),
		Oracle:   s.Oracle.Clone(),
	}
}

// isolated runs fn against a copy and adopts the copy only if fn succeeds.
func (s *System) isolated(fn func(w *System) error) error {
	w := s.Clone()
	if err := fn(w); err != nil {
		return err
	}
	*s = *w
	return nil
}

func (s *System) priceFeed() PriceFeed { return s.Oracle }

func (s *System) riskFeed() RiskFeed { return s.Troves.Sorted() }

// --- System totals ---

// EntireSystemColl is the collateral of the active and default pools.
func (s *System) EntireSystemColl() (*uint256.Int, error) {
	return fpmath.Add(s.Active.Coll, s.Default.Coll)
}

// EntireSystemDebt is the debt of the active and default pools.
func (s *System) EntireSystemDebt() (*uint256.Int, error) {
	return fpmath.Add(s.Active.Debt, s.Default.Debt)
}

// TCR returns the total collateral ratio at price.
func (s *System) TCR(price *uint256.Int) (*uint256.Int, error) {
	coll, err := s.EntireSystemColl()
	if err != nil {
		return nil, err
	}
	debt, err := s.EntireSystemDebt()
	if err != nil {
		return nil, err
	}
	return fpmath.ComputeCR(coll, debt, price)
}

// IsRecoveryMode reports whether TCR < CCR at price.
func (s *System) IsRecoveryMode(price *uint256.Int) (bool, error) {
	tcr, err := s.TCR(price)
	if err != nil {
		return false, err
	}
	return tcr.Lt(s.Params.CCR), nil
}

// newTCR returns the TCR after a Trove change.
func (s *System) newTCR(price, collChange *uint256.Int, collIncrease bool, debtChange *uint256.Int, debtIncrease bool) (*uint256.Int, error) {
	coll, err := s.EntireSystemColl()
	if err != nil {
		return nil, err
	}
	debt, err := s.EntireSystemDebt()
	if err != nil {
		return nil, err
	}
	if collIncrease {
		coll, err = fpmath.Add(coll, collChange)
	} else {
		coll, err = fpmath.Sub(coll, collChange)
	}
	if err != nil {
		return nil, err
	}
	if debtIncrease {
		debt, err = fpmath.Add(debt, debtChange)
	} else {
		debt, err = fpmath.Sub(debt, debtChange)
	}
	if err != nil {
		return nil, err
	}
	return fpmath.ComputeCR(coll, debt, price)
}

// --- Per-Trove reads ---

// TroveAmounts is a Trove's recorded position plus its pending rewards.
type TroveAmounts struct {
	Coll        *uint256.Int // including pending
	Debt        *uint256.Int // including pending
	PendingColl *uint256.Int
	PendingDebt *uint256.Int
	Stake       *uint256.Int
}

// EntireDebtAndColl returns the owner's position with pending rewards applied.
func (s *System) EntireDebtAndColl(owner uuid.UUID) (TroveAmounts, error) {
	t := s.Troves.Get(owner)
	if t == nil || !t.IsActive() {
		return TroveAmounts{}, ErrTroveNotActive
	}
	pc, pd, err := s.Rewards.PendingRewards(t.Stake, t.Snapshot)
	if err != nil {
		return TroveAmounts{}, err
	}
	coll, err := fpmath.Add(t.Coll, pc)
	if err != nil {
		return TroveAmounts{}, err
	}
	debt, err := fpmath.Add(t.Debt, pd)
	if err != nil {
		return TroveAmounts{}, err
	}
	return TroveAmounts{Coll: coll, Debt: debt, PendingColl: pc, PendingDebt: pd, Stake: t.Stake}, nil
}

// CurrentICR returns the owner's collateral ratio including pending rewards.
func (s *System) CurrentICR(owner uuid.UUID, price *uint256.Int) (*uint256.Int, error) {
	amt, err := s.EntireDebtAndColl(owner)
	if err != nil {
		return nil, err
	}
	return fpmath.ComputeCR(amt.Coll, amt.Debt, price)
}

// applyPendingRewards moves a Trove's pending rewards from the default pool
// to the active pool and credits them to the Trove.
func (s *System) applyPendingRewards(tl TokenLedger, owner uuid.UUID) error {
	t := s.Troves.Get(owner)
	if t == nil || !t.IsActive() {
		return ErrTroveNotActive
	}
	if !s.Rewards.HasPendingRewards(t.Snapshot) {
		return nil
	}
	pc, pd, err := s.Rewards.PendingRewards(t.Stake, t.Snapshot)
	if err != nil {
		return err
	}
	if err := tl.Transfer(defaultPoolColl, activePoolColl, pc, ledger.JournalTypePendingRewardPull); err != nil {
		return err
	}
	if err := s.movePendingToActive(pc, pd); err != nil {
		return err
	}
	return s.Troves.ApplyRewards(owner, pc, pd, s.Rewards.CurrentSnapshot())
}

func (s *System) movePendingToActive(coll, debt *uint256.Int) error {
	if err := s.Default.DecreaseColl(coll); err != nil {
		return err
	}
	if err := s.Default.DecreaseDebt(debt); err != nil {
		return err
	}
	if err := s.Active.IncreaseColl(coll); err != nil {
		return err
	}
	return s.Active.IncreaseDebt(debt)
}

// updateStake recomputes the owner's stake for newColl and swaps it into the
// total. Returns the new stake.
func (s *System) updateStake(oldStake, newColl *uint256.Int) (*uint256.Int, error) {
	newStake, err := s.Rewards.ComputeStake(newColl)
	if err != nil {
		return nil, err
	}
	if err := s.Rewards.UpdateTotalStakes(oldStake, newStake); err != nil {
		return nil, err
	}
	return newStake, nil
}

// closeTrove removes the Trove's stake and closes it with status.
func (s *System) closeTrove(owner uuid.UUID, stake *uint256.Int, status state.TroveStatus) error {
	if err := s.Troves.Close(owner, status); err != nil {
		return err
	}
	return s.Rewards.UpdateTotalStakes(stake, fpmath.Zero())
}

// netDebt is debt minus the gas compensation reserve.
func (s *System) netDebt(debt *uint256.Int) (*uint256.Int, error) {
	return fpmath.Sub(debt, s.Params.GasCompensation)
}

// requireValidMaxFee bounds the borrower's max fee: floor..100% in normal
// mode, anything up to 100% in recovery mode.
func (s *System) requireValidMaxFee(maxFee, floor *uint256.Int, recovery bool) error {
	if maxFee.Gt(fpmath.One()) {
		return fmt.Errorf("%w: %s > 1", ErrInvalidMaxFee, fpmath.FormatWad(maxFee))
	}
	if !recovery && maxFee.Lt(floor) {
		return fmt.Errorf("%w: %s < floor %s", ErrInvalidMaxFee, fpmath.FormatWad(maxFee), fpmath.FormatWad(floor))
	}
	return nil
}

// requireUserAcceptsFee checks fee/amount <= maxFee.
func requireUserAcceptsFee(fee, amount, maxFee *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	pct, err := fpmath.DecDiv(fee, amount)
	if err != nil {
		return err
	}
	if pct.Gt(maxFee) {
		return fmt.Errorf("%w: %s > %s", ErrFeeExceedsMax, fpmath.FormatWad(pct), fpmath.FormatWad(maxFee))
	}
	return nil
}
