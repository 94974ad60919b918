package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeAssetDeposit JournalType = iota
	JournalTypeAssetWithdrawal
	JournalTypeAssetTransfer
	JournalTypeCollateralLock
	JournalTypeCollateralRelease
	JournalTypeDebtIssue
	JournalTypeDebtRepay
	JournalTypeGasCompReserve
	JournalTypeGasCompRelease
	JournalTypeBorrowingFee
	JournalTypeRedemptionFee
	JournalTypeRedistribution
	JournalTypePendingRewardPull
	JournalTypeStabilityDeposit
	JournalTypeStabilityWithdrawal
	JournalTypeStabilityOffset
	JournalTypeStabilityGainPayout
	JournalTypeCollSurplus
	JournalTypeCollSurplusClaim
	JournalTypeStake
	JournalTypeUnstake
	JournalTypeStakingGainPayout
	JournalTypeRewardIssue
	JournalTypeLiquidationCompensation
	JournalTypeRedemption
)

var journalTypeNames = map[JournalType]string{
	JournalTypeAssetDeposit:            "asset_deposit",
	JournalTypeAssetWithdrawal:         "asset_withdrawal",
	JournalTypeAssetTransfer:           "asset_transfer",
	JournalTypeCollateralLock:          "collateral_lock",
	JournalTypeCollateralRelease:       "collateral_release",
	JournalTypeDebtIssue:               "debt_issue",
	JournalTypeDebtRepay:               "debt_repay",
	JournalTypeGasCompReserve:          "gas_comp_reserve",
	JournalTypeGasCompRelease:          "gas_comp_release",
	JournalTypeBorrowingFee:            "borrowing_fee",
	JournalTypeRedemptionFee:           "redemption_fee",
	JournalTypeRedistribution:          "redistribution",
	JournalTypePendingRewardPull:       "pending_reward_pull",
	JournalTypeStabilityDeposit:        "stability_deposit",
	JournalTypeStabilityWithdrawal:     "stability_withdrawal",
	JournalTypeStabilityOffset:         "stability_offset",
	JournalTypeStabilityGainPayout:     "stability_gain_payout",
	JournalTypeCollSurplus:             "coll_surplus",
	JournalTypeCollSurplusClaim:        "coll_surplus_claim",
	JournalTypeStake:                   "stake",
	JournalTypeUnstake:                 "unstake",
	JournalTypeStakingGainPayout:       "staking_gain_payout",
	JournalTypeRewardIssue:             "reward_issue",
	JournalTypeLiquidationCompensation: "liquidation_compensation",
	JournalTypeRedemption:              "redemption",
}

func (t JournalType) String() string {
	if name, ok := journalTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("journal_type_%d", int32(t))
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Unique identifier
	BatchID       uuid.UUID    // Groups the entries of one command
	EventRef      string       // Idempotency key of source event
	Sequence      int64        // Global event sequence
	DebitAccount  AccountKey   // Account whose balance increases
	CreditAccount AccountKey   // Account whose balance decreases
	AssetID       AssetID      // Asset being transferred
	Amount        *uint256.Int // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType  // Entry type
	Timestamp     int64        // Versioned input timestamp (epoch microseconds)
}

// IsMint reports whether the entry creates supply.
func (j Journal) IsMint() bool {
	return j.CreditAccount.IsExternal()
}

// IsBurn reports whether the entry destroys supply.
func (j Journal) IsBurn() bool {
	return j.DebitAccount.IsExternal()
}

// Batch represents the set of journal entries produced by one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from the credit account to the debit account, so every entry is
// balanced on its own. An empty batch is valid: read-only and pure
// accumulator commands move no tokens.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}

		if j.DebitAccount.IsExternal() && j.CreditAccount.IsExternal() {
			return fmt.Errorf("journal %s moves between two external accounts", j.JournalID)
		}
	}

	return nil
}
