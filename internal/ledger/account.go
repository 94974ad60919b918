package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeActivePool
	SubTypeDefaultPool
	SubTypeStabilityPool
	SubTypeCollSurplusPool
	SubTypeGasPool
	SubTypeStaking

	// External sub-types
	SubTypeSupply
)

// AssetID identifies one of the three protocol assets
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetStable     AssetID = 2
	AssetReward     AssetID = 3
)

var (
	assetToID = map[string]AssetID{
		"ETH": AssetCollateral,
		"LAI": AssetStable,
		"LAO": AssetReward,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "ETH",
		AssetStable:     "LAI",
		AssetReward:     "LAO",
	}
)

// ConfigureAssetSymbols renames the three protocol assets. It must run before
// any account path is rendered, normally once at startup.
func ConfigureAssetSymbols(collateral, stable, reward string) error {
	if collateral == "" || stable == "" || reward == "" {
		return fmt.Errorf("asset symbols must be non-empty")
	}
	if collateral == stable || stable == reward || collateral == reward {
		return fmt.Errorf("asset symbols must be distinct: %s/%s/%s", collateral, stable, reward)
	}
	assetToID = map[string]AssetID{
		collateral: AssetCollateral,
		stable:     AssetStable,
		reward:     AssetReward,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: collateral,
		AssetStable:     stable,
		AssetReward:     reward,
	}
	return nil
}

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // user UUID, zero for system and external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// WalletKey returns the free balance of a user in one asset.
func WalletKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// PoolKey returns a protocol-owned pool account.
func PoolKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// SupplyKey returns the external boundary through which an asset is minted
// and burned.
func SupplyKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeSupply,
		AssetID: assetID,
	}
}

// IsExternal reports whether the account sits outside the ledger boundary.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// UserID returns the owner of a user-scoped account.
func (k AccountKey) UserID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeActivePool:
		return "active_pool"
	case SubTypeDefaultPool:
		return "default_pool"
	case SubTypeStabilityPool:
		return "stability_pool"
	case SubTypeCollSurplusPool:
		return "coll_surplus_pool"
	case SubTypeGasPool:
		return "gas_pool"
	case SubTypeStaking:
		return "staking"
	case SubTypeSupply:
		return "supply"
	default:
		return "unknown"
	}
}
