package state

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TroveStatus tracks a Trove's lifecycle
type TroveStatus int32

const (
	TroveStatusNonExistent TroveStatus = iota
	TroveStatusActive
	TroveStatusClosedByOwner
	TroveStatusClosedByLiquidation
	TroveStatusClosedByRedemption
)

func (s TroveStatus) String() string {
	switch s {
	case TroveStatusNonExistent:
		return "NonExistent"
	case TroveStatusActive:
		return "Active"
	case TroveStatusClosedByOwner:
		return "ClosedByOwner"
	case TroveStatusClosedByLiquidation:
		return "ClosedByLiquidation"
	case TroveStatusClosedByRedemption:
		return "ClosedByRedemption"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. A closed Trove may be opened
// again by the same owner.
func (s TroveStatus) CanTransitionTo(next TroveStatus) bool {
	validTransitions := map[TroveStatus][]TroveStatus{
		TroveStatusNonExistent: {
			TroveStatusActive,
		},
		TroveStatusActive: {
			TroveStatusClosedByOwner,
			TroveStatusClosedByLiquidation,
			TroveStatusClosedByRedemption,
		},
		TroveStatusClosedByOwner:       {TroveStatusActive},
		TroveStatusClosedByLiquidation: {TroveStatusActive},
		TroveStatusClosedByRedemption:  {TroveStatusActive},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

// RewardSnapshot records the redistribution sums a Trove has been credited up to
type RewardSnapshot struct {
	LColl *uint256.Int
	LDebt *uint256.Int
}

func (s RewardSnapshot) Clone() RewardSnapshot {
	return RewardSnapshot{LColl: s.LColl.Clone(), LDebt: s.LDebt.Clone()}
}

// Trove is a collateralized debt position. Debt includes the gas reserve.
// Coll and Debt exclude pending redistribution rewards until they are applied.
type Trove struct {
	Owner    uuid.UUID
	Coll     *uint256.Int
	Debt     *uint256.Int
	Stake    *uint256.Int
	Snapshot RewardSnapshot
	Status   TroveStatus
	Version  int64 // Bumped on every mutation
}

// IsActive returns true if the Trove is open
func (t *Trove) IsActive() bool {
	return t != nil && t.Status == TroveStatusActive
}

// Clone returns a deep copy.
func (t *Trove) Clone() *Trove {
	c := *t
	c.Coll = t.Coll.Clone()
	c.Debt = t.Debt.Clone()
	c.Stake = t.Stake.Clone()
	c.Snapshot = t.Snapshot.Clone()
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (t *Trove) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+5*32+1+8)

	// owner (16 bytes UUID binary)
	buf = append(buf, t.Owner[:]...)

	// amounts (32 bytes big-endian each)
	buf = appendWord(buf, t.Coll)
	buf = appendWord(buf, t.Debt)
	buf = appendWord(buf, t.Stake)
	buf = appendWord(buf, t.Snapshot.LColl)
	buf = appendWord(buf, t.Snapshot.LDebt)

	// status (1 byte)
	buf = append(buf, byte(t.Status))

	// version (8 bytes LE)
	buf = appendInt64LE(buf, t.Version)

	return buf
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	w := v.Bytes32()
	return append(buf, w[:]...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
