package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TroveLiquidated targets a single Trove.
type TroveLiquidated struct {
	Header
	Liquidator uuid.UUID
	Owner      uuid.UUID
}

func (l *TroveLiquidated) EventType() EventType {
	return EventTypeTroveLiquidated
}

func (l *TroveLiquidated) Partition() string {
	return AccountPartition(l.Liquidator)
}

// TrovesLiquidated sweeps from the riskiest Trove. MaxCount zero means no
// limit.
type TrovesLiquidated struct {
	Header
	Liquidator uuid.UUID
	MaxCount   uint32
}

func (l *TrovesLiquidated) EventType() EventType {
	return EventTypeTrovesLiquidated
}

func (l *TrovesLiquidated) Partition() string {
	return AccountPartition(l.Liquidator)
}

type CollateralRedeemed struct {
	Header
	Redeemer      uuid.UUID
	Amount        *uint256.Int
	MaxFee        *uint256.Int
	MaxIterations uint32
}

func (r *CollateralRedeemed) EventType() EventType {
	return EventTypeCollateralRedeemed
}

func (r *CollateralRedeemed) Partition() string {
	return AccountPartition(r.Redeemer)
}
