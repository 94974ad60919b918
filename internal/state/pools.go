package state

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
)

// Pool tracks the collateral and debt held by the active or default pool.
// The collateral figure mirrors the pool's token account; the debt figure
// has no token of its own.
type Pool struct {
	Name string
	Coll *uint256.Int
	Debt *uint256.Int
}

func NewPool(name string) *Pool {
	return &Pool{Name: name, Coll: new(uint256.Int), Debt: new(uint256.Int)}
}

func (p *Pool) IncreaseColl(v *uint256.Int) error {
	c, err := fpmath.Add(p.Coll, v)
	if err != nil {
		return fmt.Errorf("%s coll: %w", p.Name, err)
	}
	p.Coll = c
	return nil
}

func (p *Pool) DecreaseColl(v *uint256.Int) error {
	c, err := fpmath.Sub(p.Coll, v)
	if err != nil {
		return fmt.Errorf("%s coll: %w", p.Name, err)
	}
	p.Coll = c
	return nil
}

func (p *Pool) IncreaseDebt(v *uint256.Int) error {
	d, err := fpmath.Add(p.Debt, v)
	if err != nil {
		return fmt.Errorf("%s debt: %w", p.Name, err)
	}
	p.Debt = d
	return nil
}

func (p *Pool) DecreaseDebt(v *uint256.Int) error {
	d, err := fpmath.Sub(p.Debt, v)
	if err != nil {
		return fmt.Errorf("%s debt: %w", p.Name, err)
	}
	p.Debt = d
	return nil
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	return &Pool{Name: p.Name, Coll: p.Coll.Clone(), Debt: p.Debt.Clone()}
}

// CollSurplusPool holds collateral left over after a capped liquidation or a
// redemption that closed a Trove, until its owner claims it.
type CollSurplusPool struct {
	Total    *uint256.Int
	balances map[uuid.UUID]*uint256.Int
}

func NewCollSurplusPool() *CollSurplusPool {
	return &CollSurplusPool{
		Total:    new(uint256.Int),
		balances: make(map[uuid.UUID]*uint256.Int),
	}
}

// AccountSurplus credits surplus collateral to an owner.
func (p *CollSurplusPool) AccountSurplus(owner uuid.UUID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	total, err := fpmath.Add(p.Total, amount)
	if err != nil {
		return err
	}
	bal, err := fpmath.Add(p.Balance(owner), amount)
	if err != nil {
		return err
	}
	p.Total = total
	p.balances[owner] = bal
	return nil
}

// Balance returns the claimable collateral of an owner.
func (p *CollSurplusPool) Balance(owner uuid.UUID) *uint256.Int {
	if b, ok := p.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Claim zeroes the owner's surplus and returns the amount.
func (p *CollSurplusPool) Claim(owner uuid.UUID) (*uint256.Int, error) {
	bal := p.Balance(owner)
	if bal.IsZero() {
		return nil, ErrNoSurplus
	}
	total, err := fpmath.Sub(p.Total, bal)
	if err != nil {
		return nil, err
	}
	p.Total = total
	delete(p.balances, owner)
	return bal, nil
}

// Balances returns a copy of every non-zero surplus.
func (p *CollSurplusPool) Balances() map[uuid.UUID]*uint256.Int {
	out := make(map[uuid.UUID]*uint256.Int, len(p.balances))
	for k, v := range p.balances {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (p *CollSurplusPool) Clone() *CollSurplusPool {
	return &CollSurplusPool{Total: p.Total.Clone(), balances: p.Balances()}
}
