package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupplyConservation verifies that, per asset, the internal balances
// add up to the outstanding supply.
func (v *InvariantValidator) ValidateSupplyConservation() error {
	totals := v.tracker.ComputeInternalTotals()

	for _, assetID := range []AssetID{AssetCollateral, AssetStable, AssetReward} {
		total, ok := totals[assetID]
		if !ok {
			total = new(uint256.Int)
		}
		supply := v.tracker.GetSupply(assetID)
		if !total.Eq(supply) {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("internal balances of %s (%s) differ from supply (%s)",
				assetName, total.Dec(), supply.Dec())
		}
	}

	return nil
}

// ValidatePoolBalance checks that a pool account holds exactly the amount the
// protocol state attributes to it.
func (v *InvariantValidator) ValidatePoolBalance(key AccountKey, expected *uint256.Int) error {
	actual := v.tracker.GetBalance(key)
	if !actual.Eq(expected) {
		return fmt.Errorf("%s holds %s, protocol state expects %s",
			key.AccountPath(), actual.Dec(), expected.Dec())
	}
	return nil
}
