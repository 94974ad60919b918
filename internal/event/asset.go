package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// AssetDeposited brings collateral or reward tokens in from outside.
type AssetDeposited struct {
	Header
	UserID uuid.UUID
	Asset  string
	Amount *uint256.Int
}

func (a *AssetDeposited) EventType() EventType {
	return EventTypeAssetDeposited
}

func (a *AssetDeposited) Partition() string {
	return AccountPartition(a.UserID)
}

// AssetWithdrawn sends collateral or reward tokens back out.
type AssetWithdrawn struct {
	Header
	UserID uuid.UUID
	Asset  string
	Amount *uint256.Int
}

func (a *AssetWithdrawn) EventType() EventType {
	return EventTypeAssetWithdrawn
}

func (a *AssetWithdrawn) Partition() string {
	return AccountPartition(a.UserID)
}

type AssetTransferred struct {
	Header
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	Asset      string
	Amount     *uint256.Int
}

func (a *AssetTransferred) EventType() EventType {
	return EventTypeAssetTransferred
}

func (a *AssetTransferred) Partition() string {
	return AccountPartition(a.FromUserID)
}
