package protocol

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// ProvideToSP moves stable tokens from the depositor's wallet into the
// Stability Pool and pays out pending gains.
func (s *System) ProvideToSP(tx Tx, depositor uuid.UUID, amount *uint256.Int) (*Result, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	q, err := s.SP.Quote(depositor)
	if err != nil {
		return nil, err
	}

	tl := tx.Ledger
	if err := tl.Transfer(wallet(depositor, ledger.AssetStable), spStable, amount, ledger.JournalTypeStabilityDeposit); err != nil {
		return nil, err
	}
	if err := s.payDepositGains(tl, depositor, q); err != nil {
		return nil, err
	}

	if _, err := s.SP.Provide(depositor, amount); err != nil {
		return nil, fatal("provide to stability pool", err)
	}
	return &Result{Touched: []uuid.UUID{depositor}}, nil
}

// WithdrawFromSP withdraws min(amount, compounded deposit) and pays out
// pending gains. A non-zero withdrawal is refused while any Trove is below
// MCR.
func (s *System) WithdrawFromSP(tx Tx, depositor uuid.UUID, amount *uint256.Int) (*Result, error) {
	if !amount.IsZero() {
		if err := s.requireNoUnderCollateralizedTroves(); err != nil {
			return nil, err
		}
	}
	q, err := s.SP.Quote(depositor)
	if err != nil {
		return nil, err
	}
	if q.Initial.IsZero() {
		return nil, ErrNoDeposit
	}
	withdrawn := fpmath.Min(amount, q.Compounded)

	tl := tx.Ledger
	if err := tl.Transfer(spStable, wallet(depositor, ledger.AssetStable), withdrawn, ledger.JournalTypeStabilityWithdrawal); err != nil {
		return nil, err
	}
	if err := s.payDepositGains(tl, depositor, q); err != nil {
		return nil, err
	}

	if _, err := s.SP.Withdraw(depositor, amount); err != nil {
		return nil, fatal("withdraw from stability pool", err)
	}
	return &Result{Touched: []uuid.UUID{depositor}}, nil
}

// WithdrawCollateralGainToTrove moves the depositor's whole collateral gain
// into their active Trove. The deposit stays at its compounded value and
// the reward gain is paid to the wallet.
func (s *System) WithdrawCollateralGainToTrove(tx Tx, depositor uuid.UUID) (*Result, error) {
	q, err := s.SP.Quote(depositor)
	if err != nil {
		return nil, err
	}
	if q.Initial.IsZero() {
		return nil, ErrNoDeposit
	}
	if q.CollGain.IsZero() {
		return nil, ErrNoCollGain
	}
	if s.Troves.Status(depositor) != state.TroveStatusActive {
		return nil, ErrNoTroveForGain
	}

	if err := tx.Ledger.Transfer(spReward, wallet(depositor, ledger.AssetReward), q.RewardGain, ledger.JournalTypeStabilityGainPayout); err != nil {
		return nil, err
	}
	// The adjustment stages and commits the collateral move out of the
	// pool's account and into the active pool.
	res, err := s.adjustTrove(tx, AdjustTroveRequest{
		Owner:          depositor,
		CollDeposit:    q.CollGain,
		CollWithdrawal: fpmath.Zero(),
		DebtChange:     fpmath.Zero(),
		MaxFee:         fpmath.Zero(),
	}, spColl)
	if err != nil {
		return nil, err
	}

	if _, err := s.SP.MoveCollGain(depositor); err != nil {
		return nil, fatal("move collateral gain", err)
	}
	return res, nil
}

// IssueRewards credits reward tokens to current depositors. It is a no-op
// while the pool is empty.
func (s *System) IssueRewards(tx Tx, amount *uint256.Int) (*Result, error) {
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if s.SP.TotalDeposits.IsZero() {
		return &Result{}, nil
	}
	if err := tx.Ledger.Mint(spReward, amount, ledger.JournalTypeRewardIssue); err != nil {
		return nil, err
	}
	if _, err := s.SP.IssueRewards(amount); err != nil {
		return nil, fatal("issue rewards", err)
	}
	return &Result{}, nil
}

func (s *System) payDepositGains(tl TokenLedger, depositor uuid.UUID, q state.DepositQuote) error {
	if err := tl.Transfer(spColl, wallet(depositor, ledger.AssetCollateral), q.CollGain, ledger.JournalTypeStabilityGainPayout); err != nil {
		return err
	}
	return tl.Transfer(spReward, wallet(depositor, ledger.AssetReward), q.RewardGain, ledger.JournalTypeStabilityGainPayout)
}

// requireNoUnderCollateralizedTroves checks the riskiest Trove against MCR.
func (s *System) requireNoUnderCollateralizedTroves() error {
	lowest, ok := s.riskFeed().Last()
	if !ok {
		return nil
	}
	price, err := s.priceFeed().CurrentPrice()
	if err != nil {
		return err
	}
	icr, err := s.CurrentICR(lowest, price)
	if err != nil {
		return err
	}
	if icr.Lt(s.Params.MCR) {
		return ErrUnderCollateralized
	}
	return nil
}
