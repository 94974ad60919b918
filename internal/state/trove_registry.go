package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TroveRegistry owns every Trove ever opened and the risk-ordered list of
// the active ones.
type TroveRegistry struct {
	troves map[uuid.UUID]*Trove
	sorted *SortedTroves
}

func NewTroveRegistry() *TroveRegistry {
	return &TroveRegistry{
		troves: make(map[uuid.UUID]*Trove),
		sorted: NewSortedTroves(),
	}
}

// Get returns a copy of the Trove, or nil if the owner never opened one.
func (tr *TroveRegistry) Get(owner uuid.UUID) *Trove {
	if t, ok := tr.troves[owner]; ok {
		return t.Clone()
	}
	return nil
}

// Status returns the lifecycle status of the owner's Trove.
func (tr *TroveRegistry) Status(owner uuid.UUID) TroveStatus {
	if t, ok := tr.troves[owner]; ok {
		return t.Status
	}
	return TroveStatusNonExistent
}

// Sorted exposes the risk-ordered list of active Troves.
func (tr *TroveRegistry) Sorted() *SortedTroves {
	return tr.sorted
}

// ActiveCount returns the number of active Troves.
func (tr *TroveRegistry) ActiveCount() int {
	return tr.sorted.Size()
}

// Open activates a Trove for owner. A previously closed Trove is reused.
func (tr *TroveRegistry) Open(owner uuid.UUID, coll, debt, stake *uint256.Int, snap RewardSnapshot, nicr *uint256.Int) error {
	current := tr.Status(owner)
	if current == TroveStatusActive {
		return ErrTroveExists
	}
	if !current.CanTransitionTo(TroveStatusActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, TroveStatusActive)
	}
	if err := tr.sorted.Insert(owner, nicr); err != nil {
		return err
	}

	version := int64(0)
	if prev, ok := tr.troves[owner]; ok {
		version = prev.Version
	}
	tr.troves[owner] = &Trove{
		Owner:    owner,
		Coll:     coll.Clone(),
		Debt:     debt.Clone(),
		Stake:    stake.Clone(),
		Snapshot: snap.Clone(),
		Status:   TroveStatusActive,
		Version:  version + 1,
	}
	return nil
}

func (tr *TroveRegistry) active(owner uuid.UUID) (*Trove, error) {
	t, ok := tr.troves[owner]
	if !ok || !t.IsActive() {
		return nil, ErrTroveNotActive
	}
	return t, nil
}

// ApplyRewards adds pending redistribution rewards and refreshes the
// snapshot. The list position is left alone; the caller re-inserts once the
// operation settles the final ratio.
func (tr *TroveRegistry) ApplyRewards(owner uuid.UUID, coll, debt *uint256.Int, snap RewardSnapshot) error {
	t, err := tr.active(owner)
	if err != nil {
		return err
	}
	t.Coll = new(uint256.Int).Add(t.Coll, coll)
	t.Debt = new(uint256.Int).Add(t.Debt, debt)
	t.Snapshot = snap.Clone()
	t.Version++
	return nil
}

// Update sets the Trove's amounts and stake and re-inserts it under nicr.
func (tr *TroveRegistry) Update(owner uuid.UUID, coll, debt, stake *uint256.Int, nicr *uint256.Int) error {
	t, err := tr.active(owner)
	if err != nil {
		return err
	}
	if err := tr.sorted.ReInsert(owner, nicr); err != nil {
		return err
	}
	t.Coll = coll.Clone()
	t.Debt = debt.Clone()
	t.Stake = stake.Clone()
	t.Version++
	return nil
}

// Close zeroes the Trove and removes it from the list. The last active
// Trove cannot be closed.
func (tr *TroveRegistry) Close(owner uuid.UUID, status TroveStatus) error {
	t, err := tr.active(owner)
	if err != nil {
		return err
	}
	if !t.Status.CanTransitionTo(status) || status == TroveStatusActive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
	}
	if tr.sorted.Size() <= 1 {
		return ErrOnlyOneTrove
	}
	if err := tr.sorted.Remove(owner); err != nil {
		return err
	}

	t.Coll = new(uint256.Int)
	t.Debt = new(uint256.Int)
	t.Stake = new(uint256.Int)
	t.Snapshot = RewardSnapshot{LColl: new(uint256.Int), LDebt: new(uint256.Int)}
	t.Status = status
	t.Version++
	return nil
}

// Restore places a Trove directly (used for snapshot restore)
func (tr *TroveRegistry) Restore(t *Trove, nicr *uint256.Int) error {
	c := t.Clone()
	tr.troves[c.Owner] = c
	if c.IsActive() {
		return tr.sorted.Insert(c.Owner, nicr)
	}
	return nil
}

// Owners returns every known owner in byte order.
func (tr *TroveRegistry) Owners() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(tr.troves))
	for k := range tr.troves {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Clone returns a deep copy.
func (tr *TroveRegistry) Clone() *TroveRegistry {
	c := &TroveRegistry{
		troves: make(map[uuid.UUID]*Trove, len(tr.troves)),
		sorted: tr.sorted.Clone(),
	}
	for k, v := range tr.troves {
		c.troves[k] = v.Clone()
	}
	return c
}
