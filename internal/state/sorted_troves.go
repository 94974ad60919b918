package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type sortedNode struct {
	owner uuid.UUID
	nicr  *uint256.Int
}

// SortedTroves orders active Troves by nominal collateral ratio. The list
// end with the lowest ratio is the riskiest ("last"); Prev walks towards
// safer Troves. Equal ratios are ordered by owner so iteration is
// deterministic.
type SortedTroves struct {
	nodes []sortedNode // ascending by (nicr, owner)
	keys  map[uuid.UUID]*uint256.Int
}

func NewSortedTroves() *SortedTroves {
	return &SortedTroves{
		keys: make(map[uuid.UUID]*uint256.Int),
	}
}

func less(a sortedNode, nicr *uint256.Int, owner uuid.UUID) bool {
	if c := a.nicr.Cmp(nicr); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.owner[:], owner[:]) < 0
}

func (st *SortedTroves) search(nicr *uint256.Int, owner uuid.UUID) int {
	return sort.Search(len(st.nodes), func(i int) bool {
		return !less(st.nodes[i], nicr, owner)
	})
}

func (st *SortedTroves) indexOf(owner uuid.UUID) (int, bool) {
	nicr, ok := st.keys[owner]
	if !ok {
		return 0, false
	}
	i := st.search(nicr, owner)
	if i < len(st.nodes) && st.nodes[i].owner == owner {
		return i, true
	}
	return 0, false
}

// Insert adds a Trove under the given ratio.
func (st *SortedTroves) Insert(owner uuid.UUID, nicr *uint256.Int) error {
	if _, ok := st.keys[owner]; ok {
		return fmt.Errorf("sorted troves: %s already present", owner)
	}
	key := nicr.Clone()
	i := st.search(key, owner)
	st.nodes = append(st.nodes, sortedNode{})
	copy(st.nodes[i+1:], st.nodes[i:])
	st.nodes[i] = sortedNode{owner: owner, nicr: key}
	st.keys[owner] = key
	return nil
}

// Remove drops a Trove from the list.
func (st *SortedTroves) Remove(owner uuid.UUID) error {
	i, ok := st.indexOf(owner)
	if !ok {
		return fmt.Errorf("sorted troves: %s not present", owner)
	}
	st.nodes = append(st.nodes[:i], st.nodes[i+1:]...)
	delete(st.keys, owner)
	return nil
}

// ReInsert moves a Trove to the position of its new ratio.
func (st *SortedTroves) ReInsert(owner uuid.UUID, nicr *uint256.Int) error {
	if err := st.Remove(owner); err != nil {
		return err
	}
	return st.Insert(owner, nicr)
}

// Contains reports whether the owner has a listed Trove.
func (st *SortedTroves) Contains(owner uuid.UUID) bool {
	_, ok := st.keys[owner]
	return ok
}

// Size returns the number of listed Troves.
func (st *SortedTroves) Size() int {
	return len(st.nodes)
}

// Last returns the Trove with the lowest ratio.
func (st *SortedTroves) Last() (uuid.UUID, bool) {
	if len(st.nodes) == 0 {
		return uuid.Nil, false
	}
	return st.nodes[0].owner, true
}

// First returns the Trove with the highest ratio.
func (st *SortedTroves) First() (uuid.UUID, bool) {
	if len(st.nodes) == 0 {
		return uuid.Nil, false
	}
	return st.nodes[len(st.nodes)-1].owner, true
}

// Prev returns the next safer Trove after owner.
func (st *SortedTroves) Prev(owner uuid.UUID) (uuid.UUID, bool) {
	i, ok := st.indexOf(owner)
	if !ok || i+1 >= len(st.nodes) {
		return uuid.Nil, false
	}
	return st.nodes[i+1].owner, true
}

// Key returns the ratio a Trove was listed under.
func (st *SortedTroves) Key(owner uuid.UUID) (*uint256.Int, bool) {
	k, ok := st.keys[owner]
	if !ok {
		return nil, false
	}
	return k.Clone(), true
}

// Owners returns all listed owners from riskiest to safest.
func (st *SortedTroves) Owners() []uuid.UUID {
	out := make([]uuid.UUID, len(st.nodes))
	for i, n := range st.nodes {
		out[i] = n.owner
	}
	return out
}

// Clone returns a deep copy.
func (st *SortedTroves) Clone() *SortedTroves {
	c := &SortedTroves{
		nodes: make([]sortedNode, len(st.nodes)),
		keys:  make(map[uuid.UUID]*uint256.Int, len(st.keys)),
	}
	for i, n := range st.nodes {
		key := n.nicr.Clone()
		c.nodes[i] = sortedNode{owner: n.owner, nicr: key}
		c.keys[n.owner] = key
	}
	return c
}
