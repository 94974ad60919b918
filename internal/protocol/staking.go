package protocol

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
)

// Stake locks reward tokens from the staker's wallet and pays out the fee
// gains accrued so far.
func (s *System) Stake(tx Tx, staker uuid.UUID, amount *uint256.Int) (*Result, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	coll, stable, err := s.Staking.PendingGains(staker)
	if err != nil {
		return nil, err
	}

	tl := tx.Ledger
	if err := tl.Transfer(wallet(staker, ledger.AssetReward), stakingReward, amount, ledger.JournalTypeStake); err != nil {
		return nil, err
	}
	if err := s.payStakingGains(tl, staker, coll, stable); err != nil {
		return nil, err
	}

	if _, err := s.Staking.Stake(staker, amount); err != nil {
		return nil, fatal("stake", err)
	}
	return &Result{Touched: []uuid.UUID{staker}}, nil
}

// Unstake returns min(amount, stake) reward tokens and pays out fee gains.
// A zero amount only pays out gains.
func (s *System) Unstake(tx Tx, staker uuid.UUID, amount *uint256.Int) (*Result, error) {
	record := s.Staking.GetStake(staker)
	if record == nil {
		return nil, ErrNoStake
	}
	coll, stable, err := s.Staking.PendingGains(staker)
	if err != nil {
		return nil, err
	}
	withdrawn := amount
	if withdrawn.Gt(record.Amount) {
		withdrawn = record.Amount
	}

	tl := tx.Ledger
	if err := tl.Transfer(stakingReward, wallet(staker, ledger.AssetReward), withdrawn, ledger.JournalTypeUnstake); err != nil {
		return nil, err
	}
	if err := s.payStakingGains(tl, staker, coll, stable); err != nil {
		return nil, err
	}

	if _, err := s.Staking.Unstake(staker, amount); err != nil {
		return nil, fatal("unstake", err)
	}
	return &Result{Touched: []uuid.UUID{staker}}, nil
}

func (s *System) payStakingGains(tl TokenLedger, staker uuid.UUID, coll, stable *uint256.Int) error {
	if err := tl.Transfer(stakingColl, wallet(staker, ledger.AssetCollateral), coll, ledger.JournalTypeStakingGainPayout); err != nil {
		return err
	}
	return tl.Transfer(stakingStable, wallet(staker, ledger.AssetStable), stable, ledger.JournalTypeStakingGainPayout)
}

// PendingStakingGains returns the fee gains owed to a staker.
func (s *System) PendingStakingGains(staker uuid.UUID) (coll, stable *uint256.Int, err error) {
	return s.Staking.PendingGains(staker)
}
