package protocol

import (
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// ErrTroveNotFound is returned by the Trove getter for an unknown owner.
var ErrTroveNotFound = errors.New("trove not found")

// SystemView is a read-only summary of every global accumulator.
type SystemView struct {
	Price        *uint256.Int // nil until the first price
	TCR          *uint256.Int // nil until the first price
	RecoveryMode bool
	ActiveTroves int

	EntireColl  *uint256.Int
	EntireDebt  *uint256.Int
	ActiveColl  *uint256.Int
	ActiveDebt  *uint256.Int
	DefaultColl *uint256.Int
	DefaultDebt *uint256.Int

	BaseRate        *uint256.Int
	LastFeeOpTimeUs int64

	LColl                   *uint256.Int
	LDebt                   *uint256.Int
	LastCollError           *uint256.Int
	LastDebtError           *uint256.Int
	TotalStakes             *uint256.Int
	TotalStakesSnapshot     *uint256.Int
	TotalCollateralSnapshot *uint256.Int

	SPTotalDeposits *uint256.Int
	P               *uint256.Int
	Epoch           uint64
	Scale           uint64
	S               *uint256.Int
	G               *uint256.Int

	FColl       *uint256.Int
	FStable     *uint256.Int
	TotalStaked *uint256.Int

	CollSurplus *uint256.Int
}

// View returns the system summary.
func (s *System) View() (SystemView, error) {
	coll, err := s.EntireSystemColl()
	if err != nil {
		return SystemView{}, err
	}
	debt, err := s.EntireSystemDebt()
	if err != nil {
		return SystemView{}, err
	}
	v := SystemView{
		ActiveTroves: s.Troves.ActiveCount(),
		EntireColl:   coll,
		EntireDebt:   debt,
		ActiveColl:   s.Active.Coll.Clone(),
		ActiveDebt:   s.Active.Debt.Clone(),
		DefaultColl:  s.Default.Coll.Clone(),
		DefaultDebt:  s.Default.Debt.Clone(),

		BaseRate:        s.BaseRate.Rate.Clone(),
		LastFeeOpTimeUs: s.BaseRate.LastFeeOpTimeUs,

		LColl:                   s.Rewards.LColl.Clone(),
		LDebt:                   s.Rewards.LDebt.Clone(),
		LastCollError:           s.Rewards.LastCollError.Clone(),
		LastDebtError:           s.Rewards.LastDebtError.Clone(),
		TotalStakes:             s.Rewards.TotalStakes.Clone(),
		TotalStakesSnapshot:     s.Rewards.TotalStakesSnapshot.Clone(),
		TotalCollateralSnapshot: s.Rewards.TotalCollateralSnapshot.Clone(),

		SPTotalDeposits: s.SP.TotalDeposits.Clone(),
		P:               s.SP.P.Clone(),
		Epoch:           s.SP.CurrentEpoch,
		Scale:           s.SP.CurrentScale,
		S:               s.SP.CurrentS(),
		G:               s.SP.CurrentG(),

		FColl:       s.Staking.FColl.Clone(),
		FStable:     s.Staking.FStable.Clone(),
		TotalStaked: s.Staking.TotalStaked.Clone(),

		CollSurplus: s.Surplus.Total.Clone(),
	}

	price, err := s.priceFeed().CurrentPrice()
	if errors.Is(err, ErrPriceUnavailable) {
		return v, nil
	}
	if err != nil {
		return SystemView{}, err
	}
	v.Price = price
	if v.TCR, err = fpmath.ComputeCR(coll, debt, price); err != nil {
		return SystemView{}, err
	}
	v.RecoveryMode = v.TCR.Lt(s.Params.CCR)
	return v, nil
}

// TroveView is a Trove with its pending rewards.
type TroveView struct {
	Owner        uuid.UUID
	Status       state.TroveStatus
	Coll         *uint256.Int // including pending rewards
	Debt         *uint256.Int // including pending rewards
	RecordedColl *uint256.Int
	RecordedDebt *uint256.Int
	PendingColl  *uint256.Int
	PendingDebt  *uint256.Int
	Stake        *uint256.Int
	Snapshot     state.RewardSnapshot
	ICR          *uint256.Int // nil while inactive or without a price
	NICR         *uint256.Int
	Version      int64
}

// Trove returns the owner's Trove, active or closed.
func (s *System) Trove(owner uuid.UUID) (TroveView, error) {
	t := s.Troves.Get(owner)
	if t == nil {
		return TroveView{}, ErrTroveNotFound
	}
	v := TroveView{
		Owner:        owner,
		Status:       t.Status,
		Coll:         t.Coll.Clone(),
		Debt:         t.Debt.Clone(),
		RecordedColl: t.Coll,
		RecordedDebt: t.Debt,
		PendingColl:  new(uint256.Int),
		PendingDebt:  new(uint256.Int),
		Stake:        t.Stake,
		Snapshot:     t.Snapshot,
		Version:      t.Version,
	}
	if !t.IsActive() {
		return v, nil
	}

	amt, err := s.EntireDebtAndColl(owner)
	if err != nil {
		return TroveView{}, err
	}
	v.Coll, v.Debt = amt.Coll, amt.Debt
	v.PendingColl, v.PendingDebt = amt.PendingColl, amt.PendingDebt
	if v.NICR, err = fpmath.ComputeNominalCR(amt.Coll, amt.Debt); err != nil {
		return TroveView{}, err
	}
	if price, err := s.priceFeed().CurrentPrice(); err == nil {
		if v.ICR, err = fpmath.ComputeCR(amt.Coll, amt.Debt, price); err != nil {
			return TroveView{}, err
		}
	}
	return v, nil
}

// DepositView is a Stability Pool deposit settled to now.
type DepositView struct {
	Depositor  uuid.UUID
	Initial    *uint256.Int
	Compounded *uint256.Int
	CollGain   *uint256.Int
	RewardGain *uint256.Int
	Snapshot   state.DepositSnapshot
}

// Deposit returns the depositor's settled position.
func (s *System) Deposit(depositor uuid.UUID) (DepositView, error) {
	d := s.SP.GetDeposit(depositor)
	if d == nil {
		return DepositView{}, ErrNoDeposit
	}
	q, err := s.SP.Quote(depositor)
	if err != nil {
		return DepositView{}, err
	}
	return DepositView{
		Depositor:  depositor,
		Initial:    q.Initial,
		Compounded: q.Compounded,
		CollGain:   q.CollGain,
		RewardGain: q.RewardGain,
		Snapshot:   d.Snapshot,
	}, nil
}

// StakeView is a staker's position and pending fee gains.
type StakeView struct {
	Staker     uuid.UUID
	Amount     *uint256.Int
	CollGain   *uint256.Int
	StableGain *uint256.Int
}

// StakeOf returns the staker's position.
func (s *System) StakeOf(staker uuid.UUID) (StakeView, error) {
	rec := s.Staking.GetStake(staker)
	if rec == nil {
		return StakeView{}, ErrNoStake
	}
	coll, stable, err := s.Staking.PendingGains(staker)
	if err != nil {
		return StakeView{}, err
	}
	return StakeView{Staker: staker, Amount: rec.Amount, CollGain: coll, StableGain: stable}, nil
}
