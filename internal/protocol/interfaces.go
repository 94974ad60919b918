package protocol

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
)

// PriceFeed supplies the collateral price in stable units (18 decimals).
type PriceFeed interface {
	CurrentPrice() (*uint256.Int, error)
}

// RiskFeed walks active Troves from the riskiest one upwards.
type RiskFeed interface {
	Last() (uuid.UUID, bool)
	Prev(owner uuid.UUID) (uuid.UUID, bool)
	Size() int
}

// TokenLedger moves the protocol's assets. Implementations stage the
// movements of one command so that they can be dropped if the command fails.
type TokenLedger interface {
	Mint(to ledger.AccountKey, amount *uint256.Int, kind ledger.JournalType) error
	Burn(from ledger.AccountKey, amount *uint256.Int, kind ledger.JournalType) error
	Transfer(from, to ledger.AccountKey, amount *uint256.Int, kind ledger.JournalType) error
	Balance(key ledger.AccountKey) *uint256.Int
}

var _ TokenLedger = (*ledger.Recorder)(nil)

var (
	activePoolColl  = ledger.PoolKey(ledger.SubTypeActivePool, ledger.AssetCollateral)
	defaultPoolColl = ledger.PoolKey(ledger.SubTypeDefaultPool, ledger.AssetCollateral)
	spStable        = ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetStable)
	spColl          = ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetCollateral)
	spReward        = ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetReward)
	surplusColl     = ledger.PoolKey(ledger.SubTypeCollSurplusPool, ledger.AssetCollateral)
	gasPoolStable   = ledger.PoolKey(ledger.SubTypeGasPool, ledger.AssetStable)
	stakingReward   = ledger.PoolKey(ledger.SubTypeStaking, ledger.AssetReward)
	stakingColl     = ledger.PoolKey(ledger.SubTypeStaking, ledger.AssetCollateral)
	stakingStable   = ledger.PoolKey(ledger.SubTypeStaking, ledger.AssetStable)
)

func wallet(user uuid.UUID, asset ledger.AssetID) ledger.AccountKey {
	return ledger.WalletKey(user, asset)
}

// PoolBalances returns the balance each system pool account must hold to
// back the protocol accumulators.
func (s *System) PoolBalances() map[ledger.AccountKey]*uint256.Int {
	gas := new(uint256.Int).Mul(s.Params.GasCompensation, uint256.NewInt(uint64(s.Troves.ActiveCount())))
	return map[ledger.AccountKey]*uint256.Int{
		activePoolColl:  s.Active.Coll.Clone(),
		defaultPoolColl: s.Default.Coll.Clone(),
		spStable:        s.SP.TotalDeposits.Clone(),
		spColl:          s.SP.CollBalance.Clone(),
		spReward:        s.SP.RewardBalance.Clone(),
		surplusColl:     s.Surplus.Total.Clone(),
		gasPoolStable:   gas,
		stakingReward:   s.Staking.TotalStaked.Clone(),
	}
}
