package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type FeeStaked struct {
	Header
	Staker uuid.UUID
	Amount *uint256.Int
}

func (f *FeeStaked) EventType() EventType {
	return EventTypeFeeStaked
}

func (f *FeeStaked) Partition() string {
	return AccountPartition(f.Staker)
}

type FeeUnstaked struct {
	Header
	Staker uuid.UUID
	Amount *uint256.Int
}

func (f *FeeUnstaked) EventType() EventType {
	return EventTypeFeeUnstaked
}

func (f *FeeUnstaked) Partition() string {
	return AccountPartition(f.Staker)
}
