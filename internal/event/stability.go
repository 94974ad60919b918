package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type StabilityDeposited struct {
	Header
	Depositor uuid.UUID
	Amount    *uint256.Int
}

func (s *StabilityDeposited) EventType() EventType {
	return EventTypeStabilityDeposited
}

func (s *StabilityDeposited) Partition() string {
	return AccountPartition(s.Depositor)
}

// StabilityWithdrawn withdraws up to Amount of the compounded deposit. A
// zero amount only pays out gains.
type StabilityWithdrawn struct {
	Header
	Depositor uuid.UUID
	Amount    *uint256.Int
}

func (s *StabilityWithdrawn) EventType() EventType {
	return EventTypeStabilityWithdrawn
}

func (s *StabilityWithdrawn) Partition() string {
	return AccountPartition(s.Depositor)
}

type StabilityGainMoved struct {
	Header
	Depositor uuid.UUID
}

func (s *StabilityGainMoved) EventType() EventType {
	return EventTypeStabilityGainMoved
}

func (s *StabilityGainMoved) Partition() string {
	return AccountPartition(s.Depositor)
}

// RewardsIssued mints reward tokens to the Stability Pool depositors.
type RewardsIssued struct {
	Header
	Amount *uint256.Int
}

func (r *RewardsIssued) EventType() EventType {
	return EventTypeRewardsIssued
}

func (r *RewardsIssued) Partition() string {
	return PartitionIssuance
}
