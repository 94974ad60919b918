package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a posting would overdraw an
// internal account.
var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceTracker maintains in-memory account balances. Internal accounts
// hold non-negative balances; the external supply account of each asset
// is tracked as the outstanding supply instead of a negative balance.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
	supply   map[AssetID]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
		supply:   make(map[AssetID]*uint256.Int),
	}
}

// ApplyBatch validates every journal against the current balances and then
// applies them all. Nothing is applied if any entry would overdraw.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	view := bt.NewView()
	for _, j := range batch.Journals {
		if err := view.Post(j); err != nil {
			return fmt.Errorf("batch %s: %w", batch.BatchID, err)
		}
	}

	view.commit()
	return nil
}

// GetBalance returns the current balance for an account. For an external
// account it returns the outstanding supply of its asset.
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if key.IsExternal() {
		return bt.GetSupply(key.AssetID)
	}
	if v, ok := bt.balances[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// GetSupply returns the outstanding supply of an asset.
func (bt *BalanceTracker) GetSupply(assetID AssetID) *uint256.Int {
	if v, ok := bt.supply[assetID]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// GetWalletBalance returns the free balance of a user.
func (bt *BalanceTracker) GetWalletBalance(userID uuid.UUID, assetID AssetID) *uint256.Int {
	return bt.GetBalance(WalletKey(userID, assetID))
}

// ComputeInternalTotals sums every internal balance per asset.
func (bt *BalanceTracker) ComputeInternalTotals() map[AssetID]*uint256.Int {
	totals := make(map[AssetID]*uint256.Int)
	for key, balance := range bt.balances {
		t, ok := totals[key.AssetID]
		if !ok {
			t = new(uint256.Int)
			totals[key.AssetID] = t
		}
		t.Add(t, balance)
	}
	return totals
}

// Snapshot returns a copy of all non-zero balances (for state hashing and
// snapshots).
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		if !v.IsZero() {
			snapshot[k] = v.Clone()
		}
	}
	return snapshot
}

// SupplySnapshot returns a copy of the outstanding supply per asset.
func (bt *BalanceTracker) SupplySnapshot() map[AssetID]*uint256.Int {
	snapshot := make(map[AssetID]*uint256.Int, len(bt.supply))
	for k, v := range bt.supply {
		snapshot[k] = v.Clone()
	}
	return snapshot
}

// Restore replaces all balances, used when loading a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]*uint256.Int, supply map[AssetID]*uint256.Int) {
	bt.balances = make(map[AccountKey]*uint256.Int, len(balances))
	for k, v := range balances {
		bt.balances[k] = v.Clone()
	}
	bt.supply = make(map[AssetID]*uint256.Int, len(supply))
	for k, v := range supply {
		bt.supply[k] = v.Clone()
	}
}

// SortedKeys returns the keys of all tracked accounts in a stable order.
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	SortAccountKeys(keys)
	return keys
}

// SortAccountKeys orders keys by scope, entity, sub-type and asset.
func SortAccountKeys(keys []AccountKey) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.EntityID != b.EntityID {
			for n := range a.EntityID {
				if a.EntityID[n] != b.EntityID[n] {
					return a.EntityID[n] < b.EntityID[n]
				}
			}
		}
		if a.SubType != b.SubType {
			return a.SubType < b.SubType
		}
		return a.AssetID < b.AssetID
	})
}

// BalanceView is a copy-on-write overlay over a tracker. Postings are checked
// against the base balances plus everything posted to the view so far.
type BalanceView struct {
	base     *BalanceTracker
	balances map[AccountKey]*uint256.Int
	supply   map[AssetID]*uint256.Int
}

// NewView opens an overlay on the tracker.
func (bt *BalanceTracker) NewView() *BalanceView {
	return &BalanceView{
		base:     bt,
		balances: make(map[AccountKey]*uint256.Int),
		supply:   make(map[AssetID]*uint256.Int),
	}
}

// Balance returns the balance as seen through the view.
func (v *BalanceView) Balance(key AccountKey) *uint256.Int {
	if key.IsExternal() {
		if s, ok := v.supply[key.AssetID]; ok {
			return s.Clone()
		}
		return v.base.GetSupply(key.AssetID)
	}
	if b, ok := v.balances[key]; ok {
		return b.Clone()
	}
	return v.base.GetBalance(key)
}

// Post applies one journal to the overlay.
func (v *BalanceView) Post(j Journal) error {
	if j.Amount == nil || j.Amount.IsZero() {
		return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
	}

	// Both sides are computed before either is stored.
	credit := v.Balance(j.CreditAccount)
	if j.CreditAccount.IsExternal() {
		if _, overflow := credit.AddOverflow(credit, j.Amount); overflow {
			return fmt.Errorf("supply of asset %d overflows", j.AssetID)
		}
	} else {
		if credit.Lt(j.Amount) {
			return fmt.Errorf("%w in %s: have=%s, need=%s",
				ErrInsufficientBalance, j.CreditAccount.AccountPath(), credit.Dec(), j.Amount.Dec())
		}
		credit.Sub(credit, j.Amount)
	}

	debit := v.Balance(j.DebitAccount)
	if j.DebitAccount.IsExternal() {
		if debit.Lt(j.Amount) {
			return fmt.Errorf("burn of %s exceeds supply %s of asset %d", j.Amount.Dec(), debit.Dec(), j.AssetID)
		}
		debit.Sub(debit, j.Amount)
	} else {
		if _, overflow := debit.AddOverflow(debit, j.Amount); overflow {
			return fmt.Errorf("balance of %s overflows", j.DebitAccount.AccountPath())
		}
	}

	v.store(j.CreditAccount, credit)
	v.store(j.DebitAccount, debit)
	return nil
}

func (v *BalanceView) store(key AccountKey, value *uint256.Int) {
	if key.IsExternal() {
		v.supply[key.AssetID] = value
		return
	}
	v.balances[key] = value
}

func (v *BalanceView) commit() {
	for k, b := range v.balances {
		if b.IsZero() {
			delete(v.base.balances, k)
			continue
		}
		v.base.balances[k] = b
	}
	for k, s := range v.supply {
		v.base.supply[k] = s
	}
}
