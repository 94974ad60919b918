package state

import (
	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
)

// RedistributionAccumulator spreads liquidated debt and collateral over all
// active Troves in proportion to their stake. L_coll and L_debt are the
// cumulative amounts per unit of stake since genesis; a Trove's pending
// reward is stake * (L - snapshot) / 1e18.
type RedistributionAccumulator struct {
	LColl *uint256.Int
	LDebt *uint256.Int

	// Truncation remainders carried into the next redistribution
	LastCollError *uint256.Int
	LastDebtError *uint256.Int

	TotalStakes             *uint256.Int
	TotalStakesSnapshot     *uint256.Int
	TotalCollateralSnapshot *uint256.Int

	// Amounts redistributed while no stake existed
	DiscardedColl *uint256.Int
	DiscardedDebt *uint256.Int
}

func NewRedistributionAccumulator() *RedistributionAccumulator {
	return &RedistributionAccumulator{
		LColl:                   new(uint256.Int),
		LDebt:                   new(uint256.Int),
		LastCollError:           new(uint256.Int),
		LastDebtError:           new(uint256.Int),
		TotalStakes:             new(uint256.Int),
		TotalStakesSnapshot:     new(uint256.Int),
		TotalCollateralSnapshot: new(uint256.Int),
		DiscardedColl:           new(uint256.Int),
		DiscardedDebt:           new(uint256.Int),
	}
}

// Redistribute credits debt and coll to every unit of stake. With no stake
// outstanding it is a no-op and the amounts are only recorded as discarded.
// Returns false in that case.
func (r *RedistributionAccumulator) Redistribute(debt, coll *uint256.Int) (bool, error) {
	if debt.IsZero() {
		return true, nil
	}
	if r.TotalStakes.IsZero() {
		r.DiscardedDebt.Add(r.DiscardedDebt, debt)
		r.DiscardedColl.Add(r.DiscardedColl, coll)
		return false, nil
	}

	collPerUnit, collErr, err := perUnit(coll, r.LastCollError, r.TotalStakes)
	if err != nil {
		return false, err
	}
	debtPerUnit, debtErr, err := perUnit(debt, r.LastDebtError, r.TotalStakes)
	if err != nil {
		return false, err
	}

	lColl, err := fpmath.Add(r.LColl, collPerUnit)
	if err != nil {
		return false, err
	}
	lDebt, err := fpmath.Add(r.LDebt, debtPerUnit)
	if err != nil {
		return false, err
	}

	r.LColl, r.LDebt = lColl, lDebt
	r.LastCollError, r.LastDebtError = collErr, debtErr
	return true, nil
}

// perUnit returns (amount*1e18 + carry) / total and the new remainder.
func perUnit(amount, carry, total *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	numerator, err := fpmath.Mul(amount, fpmath.One())
	if err != nil {
		return nil, nil, err
	}
	if numerator, err = fpmath.Add(numerator, carry); err != nil {
		return nil, nil, err
	}
	quo, rem := new(uint256.Int), new(uint256.Int)
	quo.DivMod(numerator, total, rem)
	return quo, rem, nil
}

// ComputeStake converts collateral into stake at the ratio observed after
// the last liquidation. Before any liquidation stake equals collateral.
func (r *RedistributionAccumulator) ComputeStake(coll *uint256.Int) (*uint256.Int, error) {
	if r.TotalCollateralSnapshot.IsZero() {
		return coll.Clone(), nil
	}
	return fpmath.MulDiv(coll, r.TotalStakesSnapshot, r.TotalCollateralSnapshot, fpmath.RoundDown)
}

// CurrentSnapshot returns the sums a Trove is credited up to when refreshed now.
func (r *RedistributionAccumulator) CurrentSnapshot() RewardSnapshot {
	return RewardSnapshot{LColl: r.LColl.Clone(), LDebt: r.LDebt.Clone()}
}

// HasPendingRewards reports whether either sum moved past the snapshot.
func (r *RedistributionAccumulator) HasPendingRewards(snap RewardSnapshot) bool {
	return snap.LColl.Lt(r.LColl) || snap.LDebt.Lt(r.LDebt)
}

// PendingRewards returns the collateral and debt owed to a stake since snap.
func (r *RedistributionAccumulator) PendingRewards(stake *uint256.Int, snap RewardSnapshot) (coll, debt *uint256.Int, err error) {
	coll, err = pendingFor(stake, r.LColl, snap.LColl)
	if err != nil {
		return nil, nil, err
	}
	debt, err = pendingFor(stake, r.LDebt, snap.LDebt)
	if err != nil {
		return nil, nil, err
	}
	return coll, debt, nil
}

func pendingFor(stake, current, snapshot *uint256.Int) (*uint256.Int, error) {
	delta, err := fpmath.Sub(current, snapshot)
	if err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return new(uint256.Int), nil
	}
	return fpmath.MulDiv(stake, delta, fpmath.One(), fpmath.RoundDown)
}

// UpdateTotalStakes swaps a Trove's old stake for its new one.
func (r *RedistributionAccumulator) UpdateTotalStakes(oldStake, newStake *uint256.Int) error {
	total, err := fpmath.Sub(r.TotalStakes, oldStake)
	if err != nil {
		return err
	}
	if total, err = fpmath.Add(total, newStake); err != nil {
		return err
	}
	r.TotalStakes = total
	return nil
}

// UpdateSnapshots records the stake and collateral totals after a
// liquidation. totalColl excludes the collateral paid as gas compensation.
func (r *RedistributionAccumulator) UpdateSnapshots(totalColl *uint256.Int) {
	r.TotalStakesSnapshot = r.TotalStakes.Clone()
	r.TotalCollateralSnapshot = totalColl.Clone()
}

// Clone returns a deep copy.
func (r *RedistributionAccumulator) Clone() *RedistributionAccumulator {
	return &RedistributionAccumulator{
		LColl:                   r.LColl.Clone(),
		LDebt:                   r.LDebt.Clone(),
		LastCollError:           r.LastCollError.Clone(),
		LastDebtError:           r.LastDebtError.Clone(),
		TotalStakes:             r.TotalStakes.Clone(),
		TotalStakesSnapshot:     r.TotalStakesSnapshot.Clone(),
		TotalCollateralSnapshot: r.TotalCollateralSnapshot.Clone(),
		DiscardedColl:           r.DiscardedColl.Clone(),
		DiscardedDebt:           r.DiscardedDebt.Clone(),
	}
}
