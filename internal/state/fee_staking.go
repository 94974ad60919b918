package state

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
)

// FeeKind selects one of the two fee streams paid to stakers
type FeeKind int32

const (
	FeeKindCollateral FeeKind = iota // redemption fees
	FeeKindStable                    // borrowing fees
)

func (k FeeKind) String() string {
	switch k {
	case FeeKindCollateral:
		return "collateral"
	case FeeKindStable:
		return "stable"
	default:
		return "unknown"
	}
}

// StakeRecord is one staker's position.
type StakeRecord struct {
	Amount      *uint256.Int
	FCollSnap   *uint256.Int
	FStableSnap *uint256.Int
}

func (s *StakeRecord) Clone() *StakeRecord {
	return &StakeRecord{
		Amount:      s.Amount.Clone(),
		FCollSnap:   s.FCollSnap.Clone(),
		FStableSnap: s.FStableSnap.Clone(),
	}
}

// FeeStaking hands protocol fees to reward-token stakers. F_coll and
// F_stable are the cumulative fees per staked unit. A fee received while
// nothing is staked stays in the staking account and is counted as
// undistributed.
type FeeStaking struct {
	TotalStaked *uint256.Int
	FColl       *uint256.Int
	FStable     *uint256.Int

	UndistributedColl   *uint256.Int
	UndistributedStable *uint256.Int

	stakes map[uuid.UUID]*StakeRecord
}

func NewFeeStaking() *FeeStaking {
	return &FeeStaking{
		TotalStaked:         new(uint256.Int),
		FColl:               new(uint256.Int),
		FStable:             new(uint256.Int),
		UndistributedColl:   new(uint256.Int),
		UndistributedStable: new(uint256.Int),
		stakes:              make(map[uuid.UUID]*StakeRecord),
	}
}

// ReceiveFee raises the per-unit sum of the given stream.
func (fs *FeeStaking) ReceiveFee(kind FeeKind, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if fs.TotalStaked.IsZero() {
		target := &fs.UndistributedColl
		if kind == FeeKindStable {
			target = &fs.UndistributedStable
		}
		v, err := fpmath.Add(*target, amount)
		if err != nil {
			return err
		}
		*target = v
		return nil
	}

	perUnit, err := fpmath.MulDiv(amount, fpmath.One(), fs.TotalStaked, fpmath.RoundDown)
	if err != nil {
		return err
	}
	if kind == FeeKindStable {
		v, err := fpmath.Add(fs.FStable, perUnit)
		if err != nil {
			return err
		}
		fs.FStable = v
		return nil
	}
	v, err := fpmath.Add(fs.FColl, perUnit)
	if err != nil {
		return err
	}
	fs.FColl = v
	return nil
}

// GetStake returns a copy of the staker's record, or nil.
func (fs *FeeStaking) GetStake(staker uuid.UUID) *StakeRecord {
	if s, ok := fs.stakes[staker]; ok {
		return s.Clone()
	}
	return nil
}

// Stakers returns every staker with a record.
func (fs *FeeStaking) Stakers() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(fs.stakes))
	for k := range fs.stakes {
		out = append(out, k)
	}
	return out
}

// RestoreStake sets a record directly (used for snapshot restore)
func (fs *FeeStaking) RestoreStake(staker uuid.UUID, s *StakeRecord) {
	fs.stakes[staker] = s.Clone()
}

// PendingGains returns the fees owed to a staker since the snapshot.
func (fs *FeeStaking) PendingGains(staker uuid.UUID) (coll, stable *uint256.Int, err error) {
	s, ok := fs.stakes[staker]
	if !ok || s.Amount.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	if coll, err = pendingFor(s.Amount, fs.FColl, s.FCollSnap); err != nil {
		return nil, nil, err
	}
	if stable, err = pendingFor(s.Amount, fs.FStable, s.FStableSnap); err != nil {
		return nil, nil, err
	}
	return coll, stable, nil
}

// StakeChange is the outcome of a stake or unstake. Gains are paid out by
// the caller.
type StakeChange struct {
	CollGain   *uint256.Int
	StableGain *uint256.Int
	Withdrawn  *uint256.Int
	NewStake   *uint256.Int
}

// Stake pays out pending gains and adds amount to the stake.
func (fs *FeeStaking) Stake(staker uuid.UUID, amount *uint256.Int) (StakeChange, error) {
	if amount.IsZero() {
		return StakeChange{}, ErrZeroAmount
	}
	coll, stable, err := fs.PendingGains(staker)
	if err != nil {
		return StakeChange{}, err
	}
	current := new(uint256.Int)
	if s, ok := fs.stakes[staker]; ok {
		current = s.Amount
	}
	newStake, err := fpmath.Add(current, amount)
	if err != nil {
		return StakeChange{}, err
	}
	total, err := fpmath.Add(fs.TotalStaked, amount)
	if err != nil {
		return StakeChange{}, err
	}

	fs.TotalStaked = total
	fs.setStake(staker, newStake)
	return StakeChange{CollGain: coll, StableGain: stable, Withdrawn: new(uint256.Int), NewStake: newStake}, nil
}

// Unstake pays out pending gains and withdraws min(amount, stake). A zero
// amount only pays out gains.
func (fs *FeeStaking) Unstake(staker uuid.UUID, amount *uint256.Int) (StakeChange, error) {
	s, ok := fs.stakes[staker]
	if !ok || s.Amount.IsZero() {
		return StakeChange{}, ErrNoStake
	}
	coll, stable, err := fs.PendingGains(staker)
	if err != nil {
		return StakeChange{}, err
	}
	withdrawn := fpmath.Min(amount, s.Amount).Clone()
	newStake, err := fpmath.Sub(s.Amount, withdrawn)
	if err != nil {
		return StakeChange{}, err
	}
	total, err := fpmath.Sub(fs.TotalStaked, withdrawn)
	if err != nil {
		return StakeChange{}, err
	}

	fs.TotalStaked = total
	fs.setStake(staker, newStake)
	return StakeChange{CollGain: coll, StableGain: stable, Withdrawn: withdrawn, NewStake: newStake}, nil
}

func (fs *FeeStaking) setStake(staker uuid.UUID, amount *uint256.Int) {
	if amount.IsZero() {
		delete(fs.stakes, staker)
		return
	}
	fs.stakes[staker] = &StakeRecord{
		Amount:      amount.Clone(),
		FCollSnap:   fs.FColl.Clone(),
		FStableSnap: fs.FStable.Clone(),
	}
}

// Clone returns a deep copy.
func (fs *FeeStaking) Clone() *FeeStaking {
	c := &FeeStaking{
		TotalStaked:         fs.TotalStaked.Clone(),
		FColl:               fs.FColl.Clone(),
		FStable:             fs.FStable.Clone(),
		UndistributedColl:   fs.UndistributedColl.Clone(),
		UndistributedStable: fs.UndistributedStable.Clone(),
		stakes:              make(map[uuid.UUID]*StakeRecord, len(fs.stakes)),
	}
	for k, v := range fs.stakes {
		c.stakes[k] = v.Clone()
	}
	return c
}
