package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// LiquidationMode is the rule set a Trove was liquidated under.
type LiquidationMode string

const (
	ModeNormal   LiquidationMode = "normal"
	ModeRecovery LiquidationMode = "recovery"
)

// LiquidatedTrove records how one Trove's debt and collateral were split.
type LiquidatedTrove struct {
	Owner             uuid.UUID
	Mode              LiquidationMode
	ICR               *uint256.Int
	Debt              *uint256.Int
	Coll              *uint256.Int
	DebtOffset        *uint256.Int
	CollToSP          *uint256.Int
	DebtRedistributed *uint256.Int
	CollRedistributed *uint256.Int
	CollSurplus       *uint256.Int
	CollGasComp       *uint256.Int
	StableGasComp     *uint256.Int
}

// LiquidationTotals aggregates a liquidation sequence. Offset and
// redistribution are applied once for the whole sequence.
type LiquidationTotals struct {
	Liquidator        uuid.UUID
	Price             *uint256.Int
	RecoveryMode      bool // at the start of the sequence
	Troves            []LiquidatedTrove
	Debt              *uint256.Int
	Coll              *uint256.Int
	DebtOffset        *uint256.Int
	CollToSP          *uint256.Int
	DebtRedistributed *uint256.Int
	CollRedistributed *uint256.Int
	CollSurplus       *uint256.Int
	CollGasComp       *uint256.Int
	StableGasComp     *uint256.Int
	Discarded         bool // redistribution found no stake
}

func newLiquidationTotals(liquidator uuid.UUID, price *uint256.Int, recovery bool) *LiquidationTotals {
	return &LiquidationTotals{
		Liquidator:        liquidator,
		Price:             price,
		RecoveryMode:      recovery,
		Debt:              new(uint256.Int),
		Coll:              new(uint256.Int),
		DebtOffset:        new(uint256.Int),
		CollToSP:          new(uint256.Int),
		DebtRedistributed: new(uint256.Int),
		CollRedistributed: new(uint256.Int),
		CollSurplus:       new(uint256.Int),
		CollGasComp:       new(uint256.Int),
		StableGasComp:     new(uint256.Int),
	}
}

func (t *LiquidationTotals) add(l LiquidatedTrove) error {
	pairs := []struct{ total, v *uint256.Int }{
		{t.Debt, l.Debt},
		{t.Coll, l.Coll},
		{t.DebtOffset, l.DebtOffset},
		{t.CollToSP, l.CollToSP},
		{t.DebtRedistributed, l.DebtRedistributed},
		{t.CollRedistributed, l.CollRedistributed},
		{t.CollSurplus, l.CollSurplus},
		{t.CollGasComp, l.CollGasComp},
		{t.StableGasComp, l.StableGasComp},
	}
	for _, p := range pairs {
		if _, overflow := p.total.AddOverflow(p.total, p.v); overflow {
			return fpmath.ErrOverflow
		}
	}
	t.Troves = append(t.Troves, l)
	return nil
}

// Liquidate liquidates a single Trove.
func (s *System) Liquidate(tx Tx, liquidator, owner uuid.UUID) (*Result, error) {
	if s.Troves.Status(owner) != state.TroveStatusActive {
		return nil, ErrTroveNotActive
	}
	if s.Troves.ActiveCount() <= 1 {
		return nil, ErrOnlyOneTrove
	}
	return s.liquidateSequence(tx, liquidator, func(w *System) troveCursor {
		return &listCursor{owners: []uuid.UUID{owner}}
	}, false)
}

// LiquidateBatch walks up to maxCount Troves from the riskiest one. A zero
// maxCount walks the whole list.
func (s *System) LiquidateBatch(tx Tx, liquidator uuid.UUID, maxCount uint32) (*Result, error) {
	return s.liquidateSequence(tx, liquidator, func(w *System) troveCursor {
		return &feedCursor{feed: w.riskFeed(), remaining: maxCount}
	}, true)
}

// troveCursor yields liquidation candidates. next is called before the
// current candidate is liquidated.
type troveCursor interface {
	next() (uuid.UUID, bool)
}

type listCursor struct {
	owners []uuid.UUID
	i      int
}

func (c *listCursor) next() (uuid.UUID, bool) {
	if c.i >= len(c.owners) {
		return uuid.Nil, false
	}
	c.i++
	return c.owners[c.i-1], true
}

type feedCursor struct {
	feed      RiskFeed
	remaining uint32
	started   bool
	upcoming  uuid.UUID
	hasNext   bool
	visited   uint32
}

func (c *feedCursor) next() (uuid.UUID, bool) {
	if !c.started {
		c.started = true
		c.upcoming, c.hasNext = c.feed.Last()
	}
	if !c.hasNext || (c.remaining > 0 && c.visited >= c.remaining) {
		return uuid.Nil, false
	}
	current := c.upcoming
	c.upcoming, c.hasNext = c.feed.Prev(current)
	c.visited++
	return current, true
}

// liquidateSequence applies the liquidation rules to the cursor's Troves.
// A sequential sweep stops at the first adequately collateralized Trove; an
// explicit list skips it. In recovery mode a Trove below TCR that the pool
// cannot absorb is skipped either way.
func (s *System) liquidateSequence(tx Tx, liquidator uuid.UUID, cursor func(w *System) troveCursor, sweep bool) (*Result, error) {
	price, err := s.priceFeed().CurrentPrice()
	if err != nil {
		return nil, err
	}
	recovery, err := s.IsRecoveryMode(price)
	if err != nil {
		return nil, err
	}

	var (
		totals *LiquidationTotals
		offset state.OffsetResult
	)
	err = s.isolated(func(w *System) error {
		totals = newLiquidationTotals(liquidator, price, recovery)
		if err := w.collectLiquidations(tx.Ledger, cursor(w), totals, price, recovery, sweep); err != nil {
			return err
		}
		if totals.Debt.IsZero() {
			return ErrNothingToLiquidate
		}
		res, err := w.settleLiquidations(tx.Ledger, totals)
		offset = res
		return err
	})
	if err != nil {
		return nil, err
	}

	touched := make([]uuid.UUID, 0, len(totals.Troves)+1)
	for _, l := range totals.Troves {
		touched = append(touched, l.Owner)
	}
	touched = append(touched, liquidator)
	return &Result{Touched: touched, Liquidation: totals, Offset: offset}, nil
}

func (s *System) collectLiquidations(tl TokenLedger, cursor troveCursor, totals *LiquidationTotals, price *uint256.Int, recovery, sweep bool) error {
	remainingSP := s.SP.TotalDeposits.Clone()
	systemColl, err := s.EntireSystemColl()
	if err != nil {
		return err
	}
	systemDebt, err := s.EntireSystemDebt()
	if err != nil {
		return err
	}
	backToNormal := !recovery

	for {
		owner, ok := cursor.next()
		if !ok {
			return nil
		}
		if s.Troves.Status(owner) != state.TroveStatusActive {
			continue
		}
		if s.Troves.ActiveCount() <= 1 {
			return nil
		}
		amt, err := s.EntireDebtAndColl(owner)
		if err != nil {
			return err
		}
		icr, err := fpmath.ComputeCR(amt.Coll, amt.Debt, price)
		if err != nil {
			return err
		}

		var (
			single LiquidatedTrove
			done   bool
		)
		switch {
		case !backToNormal:
			if !icr.Lt(s.Params.MCR) && remainingSP.IsZero() {
				break
			}
			tcr, err := fpmath.ComputeCR(systemColl, systemDebt, price)
			if err != nil {
				return err
			}
			single, done, err = s.liquidateRecoveryMode(tl, owner, amt, icr, remainingSP, tcr, price)
			if err != nil {
				return err
			}
			if !done {
				// Below TCR but too large for the pool: skip it, the next
				// Trove may still qualify.
				continue
			}
			systemDebt = new(uint256.Int).Sub(systemDebt, single.DebtOffset)
			systemColl = new(uint256.Int).Sub(systemColl, single.CollToSP)
			systemColl.Sub(systemColl, single.CollGasComp)
			systemColl.Sub(systemColl, single.CollSurplus)
			newTCR, err := fpmath.ComputeCR(systemColl, systemDebt, price)
			if err != nil {
				return err
			}
			backToNormal = !newTCR.Lt(s.Params.CCR)
		case icr.Lt(s.Params.MCR):
			single, err = s.liquidateNormalMode(tl, owner, amt, icr, remainingSP)
			if err != nil {
				return err
			}
			done = true
		}

		if !done {
			if sweep {
				return nil
			}
			continue
		}
		remainingSP = new(uint256.Int).Sub(remainingSP, single.DebtOffset)
		if err := totals.add(single); err != nil {
			return err
		}
	}
}

// baseLiquidation pulls pending rewards and closes the Trove.
func (s *System) baseLiquidation(tl TokenLedger, owner uuid.UUID, amt TroveAmounts, icr *uint256.Int, mode LiquidationMode) (LiquidatedTrove, error) {
	if err := s.applyPendingRewards(tl, owner); err != nil {
		return LiquidatedTrove{}, err
	}
	if err := s.closeTrove(owner, amt.Stake, state.TroveStatusClosedByLiquidation); err != nil {
		return LiquidatedTrove{}, err
	}
	return LiquidatedTrove{
		Owner:             owner,
		Mode:              mode,
		ICR:               icr,
		Debt:              amt.Debt,
		Coll:              amt.Coll,
		DebtOffset:        new(uint256.Int),
		CollToSP:          new(uint256.Int),
		DebtRedistributed: new(uint256.Int),
		CollRedistributed: new(uint256.Int),
		CollSurplus:       new(uint256.Int),
		CollGasComp:       s.Params.CollGasCompensation(amt.Coll),
		StableGasComp:     s.Params.GasCompensation.Clone(),
	}, nil
}

func (s *System) liquidateNormalMode(tl TokenLedger, owner uuid.UUID, amt TroveAmounts, icr, remainingSP *uint256.Int) (LiquidatedTrove, error) {
	l, err := s.baseLiquidation(tl, owner, amt, icr, ModeNormal)
	if err != nil {
		return LiquidatedTrove{}, err
	}
	if err := l.splitOffset(remainingSP); err != nil {
		return LiquidatedTrove{}, err
	}
	return l, nil
}

// liquidateRecoveryMode returns done=false when the Trove must be skipped.
func (s *System) liquidateRecoveryMode(tl TokenLedger, owner uuid.UUID, amt TroveAmounts, icr, remainingSP, tcr, price *uint256.Int) (LiquidatedTrove, bool, error) {
	one := fpmath.One()
	switch {
	case !icr.Gt(one):
		l, err := s.baseLiquidation(tl, owner, amt, icr, ModeRecovery)
		if err != nil {
			return LiquidatedTrove{}, false, err
		}
		l.DebtRedistributed = amt.Debt.Clone()
		l.CollRedistributed = new(uint256.Int).Sub(amt.Coll, l.CollGasComp)
		return l, true, nil

	case icr.Lt(s.Params.MCR):
		l, err := s.baseLiquidation(tl, owner, amt, icr, ModeRecovery)
		if err != nil {
			return LiquidatedTrove{}, false, err
		}
		if err := l.splitOffset(remainingSP); err != nil {
			return LiquidatedTrove{}, false, err
		}
		return l, true, nil

	case icr.Lt(tcr) && !amt.Debt.Gt(remainingSP):
		// Capped offset: the pool takes collateral worth MCR * debt, the
		// rest is claimable by the owner.
		collToOffset, err := fpmath.MulDiv(amt.Debt, s.Params.MCR, price, fpmath.RoundDown)
		if err != nil {
			return LiquidatedTrove{}, false, err
		}
		l, err := s.baseLiquidation(tl, owner, amt, icr, ModeRecovery)
		if err != nil {
			return LiquidatedTrove{}, false, err
		}
		l.CollGasComp = s.Params.CollGasCompensation(collToOffset)
		l.DebtOffset = amt.Debt.Clone()
		l.CollToSP = new(uint256.Int).Sub(collToOffset, l.CollGasComp)
		l.CollSurplus = new(uint256.Int).Sub(amt.Coll, collToOffset)
		if !l.CollSurplus.IsZero() {
			if err := tl.Transfer(activePoolColl, surplusColl, l.CollSurplus, ledger.JournalTypeCollSurplus); err != nil {
				return LiquidatedTrove{}, false, err
			}
			if err := s.Surplus.AccountSurplus(owner, l.CollSurplus); err != nil {
				return LiquidatedTrove{}, false, err
			}
			if err := s.Active.DecreaseColl(l.CollSurplus); err != nil {
				return LiquidatedTrove{}, false, err
			}
		}
		return l, true, nil
	}
	return LiquidatedTrove{}, false, nil
}

// splitOffset offsets as much debt as the pool can absorb, with a
// proportional share of the collateral left after gas compensation, and
// marks the rest for redistribution.
func (l *LiquidatedTrove) splitOffset(remainingSP *uint256.Int) error {
	coll := new(uint256.Int).Sub(l.Coll, l.CollGasComp)
	if remainingSP.IsZero() {
		l.DebtRedistributed = l.Debt.Clone()
		l.CollRedistributed = coll
		return nil
	}
	l.DebtOffset = fpmath.Min(l.Debt, remainingSP).Clone()
	collToSP, err := fpmath.MulDiv(coll, l.DebtOffset, l.Debt, fpmath.RoundDown)
	if err != nil {
		return err
	}
	l.CollToSP = collToSP
	l.DebtRedistributed = new(uint256.Int).Sub(l.Debt, l.DebtOffset)
	l.CollRedistributed = new(uint256.Int).Sub(coll, collToSP)
	return nil
}

// settleLiquidations applies the aggregated offset and redistribution,
// refreshes the stake snapshots and pays the liquidator.
func (s *System) settleLiquidations(tl TokenLedger, t *LiquidationTotals) (state.OffsetResult, error) {
	// Stability Pool offset
	offset, err := s.SP.Offset(t.DebtOffset, t.CollToSP)
	if err != nil {
		return state.OffsetResult{}, fmt.Errorf("offset: %w", err)
	}
	if err := tl.Burn(spStable, t.DebtOffset, ledger.JournalTypeStabilityOffset); err != nil {
		return state.OffsetResult{}, err
	}
	if err := tl.Transfer(activePoolColl, spColl, t.CollToSP, ledger.JournalTypeStabilityOffset); err != nil {
		return state.OffsetResult{}, err
	}
	if err := s.Active.DecreaseDebt(t.DebtOffset); err != nil {
		return state.OffsetResult{}, err
	}
	if err := s.Active.DecreaseColl(t.CollToSP); err != nil {
		return state.OffsetResult{}, err
	}

	// Redistribution over the remaining stakes
	if !t.DebtRedistributed.IsZero() {
		applied, err := s.Rewards.Redistribute(t.DebtRedistributed, t.CollRedistributed)
		if err != nil {
			return state.OffsetResult{}, fmt.Errorf("redistribute: %w", err)
		}
		t.Discarded = !applied
		if err := tl.Transfer(activePoolColl, defaultPoolColl, t.CollRedistributed, ledger.JournalTypeRedistribution); err != nil {
			return state.OffsetResult{}, err
		}
		if err := s.Active.DecreaseDebt(t.DebtRedistributed); err != nil {
			return state.OffsetResult{}, err
		}
		if err := s.Active.DecreaseColl(t.CollRedistributed); err != nil {
			return state.OffsetResult{}, err
		}
		if err := s.Default.IncreaseDebt(t.DebtRedistributed); err != nil {
			return state.OffsetResult{}, err
		}
		if err := s.Default.IncreaseColl(t.CollRedistributed); err != nil {
			return state.OffsetResult{}, err
		}
	}

	// Snapshots exclude the collateral about to leave as gas compensation
	totalColl, err := fpmath.Sub(s.Active.Coll, t.CollGasComp)
	if err != nil {
		return state.OffsetResult{}, err
	}
	if totalColl, err = fpmath.Add(totalColl, s.Default.Coll); err != nil {
		return state.OffsetResult{}, err
	}
	s.Rewards.UpdateSnapshots(totalColl)

	// Gas compensation
	if err := tl.Transfer(gasPoolStable, wallet(t.Liquidator, ledger.AssetStable), t.StableGasComp, ledger.JournalTypeLiquidationCompensation); err != nil {
		return state.OffsetResult{}, err
	}
	if err := tl.Transfer(activePoolColl, wallet(t.Liquidator, ledger.AssetCollateral), t.CollGasComp, ledger.JournalTypeLiquidationCompensation); err != nil {
		return state.OffsetResult{}, err
	}
	if err := s.Active.DecreaseColl(t.CollGasComp); err != nil {
		return state.OffsetResult{}, err
	}
	return offset, nil
}
