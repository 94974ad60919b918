package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type TroveOpened struct {
	Header
	Owner        uuid.UUID
	Collateral   *uint256.Int
	StableAmount *uint256.Int
	MaxFee       *uint256.Int
}

func (t *TroveOpened) EventType() EventType {
	return EventTypeTroveOpened
}

func (t *TroveOpened) Partition() string {
	return AccountPartition(t.Owner)
}

// TroveAdjusted changes collateral and/or debt of an open Trove.
type TroveAdjusted struct {
	Header
	Owner          uuid.UUID
	CollDeposit    *uint256.Int
	CollWithdrawal *uint256.Int
	DebtChange     *uint256.Int
	DebtIncrease   bool
	MaxFee         *uint256.Int
}

func (t *TroveAdjusted) EventType() EventType {
	return EventTypeTroveAdjusted
}

func (t *TroveAdjusted) Partition() string {
	return AccountPartition(t.Owner)
}

type TroveClosed struct {
	Header
	Owner uuid.UUID
}

func (t *TroveClosed) EventType() EventType {
	return EventTypeTroveClosed
}

func (t *TroveClosed) Partition() string {
	return AccountPartition(t.Owner)
}

// CollateralClaimed pays out surplus collateral left by a redemption or a
// capped liquidation.
type CollateralClaimed struct {
	Header
	Owner uuid.UUID
}

func (c *CollateralClaimed) EventType() EventType {
	return EventTypeCollateralClaimed
}

func (c *CollateralClaimed) Partition() string {
	return AccountPartition(c.Owner)
}
