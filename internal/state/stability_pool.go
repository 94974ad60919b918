package state

import (
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
)

// ScaleFactor is the precision floor of P. When a loss would push P below
// it, P is multiplied by ScaleFactor and the scale advances.
const ScaleFactor = 1_000_000_000

var (
	scaleFactor = uint256.NewInt(ScaleFactor)

	ErrNoCollGain = errors.New("depositor has no collateral gain")
)

// EpochScale keys the S and G sums.
type EpochScale struct {
	Epoch uint64
	Scale uint64
}

// DepositSnapshot captures the pool state at a depositor's last touch
type DepositSnapshot struct {
	P     *uint256.Int
	S     *uint256.Int
	G     *uint256.Int
	Epoch uint64
	Scale uint64
}

// Deposit is one depositor's record.
type Deposit struct {
	Initial  *uint256.Int
	Snapshot DepositSnapshot
}

func (d *Deposit) Clone() *Deposit {
	return &Deposit{
		Initial: d.Initial.Clone(),
		Snapshot: DepositSnapshot{
			P:     d.Snapshot.P.Clone(),
			S:     d.Snapshot.S.Clone(),
			G:     d.Snapshot.G.Clone(),
			Epoch: d.Snapshot.Epoch,
			Scale: d.Snapshot.Scale,
		},
	}
}

// StabilityPool tracks stable-asset deposits that absorb liquidated debt.
//
// Deposits shrink by the running product P; collateral gains accumulate in
// S and reward-token gains in G, both keyed by (epoch, scale). A full
// drain starts a new epoch and resets P to one. Every depositor is settled
// in O(1) from its snapshot, without iterating over other depositors.
type StabilityPool struct {
	TotalDeposits *uint256.Int
	P             *uint256.Int
	CurrentEpoch  uint64
	CurrentScale  uint64
	S             map[EpochScale]*uint256.Int
	G             map[EpochScale]*uint256.Int

	LastCollError   *uint256.Int
	LastLossError   *uint256.Int
	LastRewardError *uint256.Int

	// Token balances held on behalf of depositors
	CollBalance   *uint256.Int
	RewardBalance *uint256.Int

	deposits map[uuid.UUID]*Deposit
}

func NewStabilityPool() *StabilityPool {
	return &StabilityPool{
		TotalDeposits:   new(uint256.Int),
		P:               fpmath.One(),
		S:               make(map[EpochScale]*uint256.Int),
		G:               make(map[EpochScale]*uint256.Int),
		LastCollError:   new(uint256.Int),
		LastLossError:   new(uint256.Int),
		LastRewardError: new(uint256.Int),
		CollBalance:     new(uint256.Int),
		RewardBalance:   new(uint256.Int),
		deposits:        make(map[uuid.UUID]*Deposit),
	}
}

func sumAt(m map[EpochScale]*uint256.Int, epoch, scale uint64) *uint256.Int {
	if v, ok := m[EpochScale{Epoch: epoch, Scale: scale}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// CurrentS returns S at the current epoch and scale.
func (sp *StabilityPool) CurrentS() *uint256.Int {
	return sumAt(sp.S, sp.CurrentEpoch, sp.CurrentScale)
}

// CurrentG returns G at the current epoch and scale.
func (sp *StabilityPool) CurrentG() *uint256.Int {
	return sumAt(sp.G, sp.CurrentEpoch, sp.CurrentScale)
}

// GetDeposit returns a copy of the depositor's record, or nil.
func (sp *StabilityPool) GetDeposit(depositor uuid.UUID) *Deposit {
	if d, ok := sp.deposits[depositor]; ok {
		return d.Clone()
	}
	return nil
}

// Depositors returns every depositor with a non-zero record.
func (sp *StabilityPool) Depositors() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(sp.deposits))
	for k := range sp.deposits {
		out = append(out, k)
	}
	return out
}

// RestoreDeposit sets a depositor record directly (used for snapshot restore)
func (sp *StabilityPool) RestoreDeposit(depositor uuid.UUID, d *Deposit) {
	sp.deposits[depositor] = d.Clone()
}

// --- Reads ---

// CompoundedDeposit returns the depositor's deposit after all losses since
// the snapshot. It is zero once an epoch has passed, or when the scale moved
// by more than one, or when the result falls below 1e-9 of the initial value.
func (sp *StabilityPool) CompoundedDeposit(depositor uuid.UUID) (*uint256.Int, error) {
	d, ok := sp.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return new(uint256.Int), nil
	}
	return sp.compounded(d.Initial, d.Snapshot)
}

func (sp *StabilityPool) compounded(initial *uint256.Int, snap DepositSnapshot) (*uint256.Int, error) {
	if snap.Epoch < sp.CurrentEpoch {
		return new(uint256.Int), nil
	}

	var (
		value *uint256.Int
		err   error
	)
	switch sp.CurrentScale - snap.Scale {
	case 0:
		value, err = fpmath.MulDiv(initial, sp.P, snap.P, fpmath.RoundDown)
	case 1:
		value, err = fpmath.MulDiv(initial, sp.P, snap.P, fpmath.RoundDown)
		if err == nil {
			value = value.Div(value, scaleFactor)
		}
	default:
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}

	// Below 1e-9 of the initial deposit the value is rounding noise.
	if value.Lt(new(uint256.Int).Div(initial, scaleFactor)) {
		return new(uint256.Int), nil
	}
	return value, nil
}

// CollGain returns the collateral owed to the depositor since the snapshot.
func (sp *StabilityPool) CollGain(depositor uuid.UUID) (*uint256.Int, error) {
	d, ok := sp.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return new(uint256.Int), nil
	}
	return gainFromSnapshots(d.Initial, sp.S, d.Snapshot.S, d.Snapshot)
}

// RewardGain returns the reward tokens owed to the depositor since the snapshot.
func (sp *StabilityPool) RewardGain(depositor uuid.UUID) (*uint256.Int, error) {
	d, ok := sp.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return new(uint256.Int), nil
	}
	return gainFromSnapshots(d.Initial, sp.G, d.Snapshot.G, d.Snapshot)
}

// gainFromSnapshots sums the growth of a running sum within the snapshot's
// scale and the following one. Gains earned two or more scales later are
// below precision and ignored.
func gainFromSnapshots(initial *uint256.Int, sums map[EpochScale]*uint256.Int, snapSum *uint256.Int, snap DepositSnapshot) (*uint256.Int, error) {
	first, err := fpmath.Sub(sumAt(sums, snap.Epoch, snap.Scale), snapSum)
	if err != nil {
		return nil, err
	}
	second := sumAt(sums, snap.Epoch, snap.Scale+1)
	second.Div(second, scaleFactor)

	portion, err := fpmath.Add(first, second)
	if err != nil {
		return nil, err
	}
	gain, err := fpmath.MulDiv(initial, portion, snap.P, fpmath.RoundDown)
	if err != nil {
		return nil, err
	}
	return gain.Div(gain, fpmath.One()), nil
}

// DepositQuote is the settled position of a depositor before a change.
type DepositQuote struct {
	Initial    *uint256.Int
	Compounded *uint256.Int
	CollGain   *uint256.Int
	RewardGain *uint256.Int
}

// Quote settles a depositor without mutating the pool.
func (sp *StabilityPool) Quote(depositor uuid.UUID) (DepositQuote, error) {
	q := DepositQuote{Initial: new(uint256.Int)}
	if d, ok := sp.deposits[depositor]; ok {
		q.Initial = d.Initial.Clone()
	}
	var err error
	if q.Compounded, err = sp.CompoundedDeposit(depositor); err != nil {
		return DepositQuote{}, err
	}
	if q.CollGain, err = sp.CollGain(depositor); err != nil {
		return DepositQuote{}, err
	}
	if q.RewardGain, err = sp.RewardGain(depositor); err != nil {
		return DepositQuote{}, err
	}
	return q, nil
}

// --- Depositor operations ---

// DepositChange is the outcome of a depositor operation. Gains are paid out
// by the caller.
type DepositChange struct {
	DepositQuote
	Withdrawn  *uint256.Int
	NewDeposit *uint256.Int
}

// Provide settles pending gains and adds amount to the deposit.
func (sp *StabilityPool) Provide(depositor uuid.UUID, amount *uint256.Int) (DepositChange, error) {
	if amount.IsZero() {
		return DepositChange{}, ErrZeroAmount
	}
	q, err := sp.Quote(depositor)
	if err != nil {
		return DepositChange{}, err
	}
	newDeposit, err := fpmath.Add(q.Compounded, amount)
	if err != nil {
		return DepositChange{}, err
	}
	total, err := fpmath.Add(sp.TotalDeposits, amount)
	if err != nil {
		return DepositChange{}, err
	}
	if err := sp.payGains(q); err != nil {
		return DepositChange{}, err
	}

	sp.TotalDeposits = total
	sp.updateDepositAndSnapshot(depositor, newDeposit)
	return DepositChange{DepositQuote: q, Withdrawn: new(uint256.Int), NewDeposit: newDeposit}, nil
}

// Withdraw settles pending gains and withdraws min(amount, compounded).
// A zero amount only pays out gains.
func (sp *StabilityPool) Withdraw(depositor uuid.UUID, amount *uint256.Int) (DepositChange, error) {
	q, err := sp.Quote(depositor)
	if err != nil {
		return DepositChange{}, err
	}
	if q.Initial.IsZero() {
		return DepositChange{}, ErrNoDeposit
	}

	withdrawn := fpmath.Min(amount, q.Compounded).Clone()
	newDeposit, err := fpmath.Sub(q.Compounded, withdrawn)
	if err != nil {
		return DepositChange{}, err
	}
	total, err := fpmath.Sub(sp.TotalDeposits, withdrawn)
	if err != nil {
		return DepositChange{}, err
	}
	if err := sp.payGains(q); err != nil {
		return DepositChange{}, err
	}

	sp.TotalDeposits = total
	sp.updateDepositAndSnapshot(depositor, newDeposit)
	return DepositChange{DepositQuote: q, Withdrawn: withdrawn, NewDeposit: newDeposit}, nil
}

// MoveCollGain settles the depositor, keeps the compounded deposit and
// releases the whole collateral gain for transfer to the depositor's Trove.
func (sp *StabilityPool) MoveCollGain(depositor uuid.UUID) (DepositChange, error) {
	q, err := sp.Quote(depositor)
	if err != nil {
		return DepositChange{}, err
	}
	if q.Initial.IsZero() {
		return DepositChange{}, ErrNoDeposit
	}
	if q.CollGain.IsZero() {
		return DepositChange{}, ErrNoCollGain
	}
	if err := sp.payGains(q); err != nil {
		return DepositChange{}, err
	}

	sp.updateDepositAndSnapshot(depositor, q.Compounded)
	return DepositChange{DepositQuote: q, Withdrawn: new(uint256.Int), NewDeposit: q.Compounded.Clone()}, nil
}

func (sp *StabilityPool) payGains(q DepositQuote) error {
	coll, err := fpmath.Sub(sp.CollBalance, q.CollGain)
	if err != nil {
		return err
	}
	reward, err := fpmath.Sub(sp.RewardBalance, q.RewardGain)
	if err != nil {
		return err
	}
	sp.CollBalance, sp.RewardBalance = coll, reward
	return nil
}

func (sp *StabilityPool) updateDepositAndSnapshot(depositor uuid.UUID, newDeposit *uint256.Int) {
	if newDeposit.IsZero() {
		delete(sp.deposits, depositor)
		return
	}
	sp.deposits[depositor] = &Deposit{
		Initial: newDeposit.Clone(),
		Snapshot: DepositSnapshot{
			P:     sp.P.Clone(),
			S:     sp.CurrentS(),
			G:     sp.CurrentG(),
			Epoch: sp.CurrentEpoch,
			Scale: sp.CurrentScale,
		},
	}
}

// --- Pool-wide operations ---

// OffsetResult reports how an offset moved the epoch and scale.
type OffsetResult struct {
	Applied       bool
	EpochAdvanced bool
	ScaleAdvanced bool
}

// Offset absorbs debt against the deposits and credits coll as a gain.
// It is a no-op when the pool is empty or the debt is zero.
func (sp *StabilityPool) Offset(debt, coll *uint256.Int) (OffsetResult, error) {
	if sp.TotalDeposits.IsZero() || debt.IsZero() {
		return OffsetResult{}, nil
	}
	if debt.Gt(sp.TotalDeposits) {
		return OffsetResult{}, ErrOffsetExceedsPool
	}

	total := sp.TotalDeposits
	one := fpmath.One()

	// Collateral gain per unit, error-corrected
	collGainPerUnit, collErr, err := perUnit(coll, sp.LastCollError, total)
	if err != nil {
		return OffsetResult{}, err
	}

	// Loss per unit rounds up so deposits never over-report
	var lossPerUnit, lossErr *uint256.Int
	if debt.Eq(total) {
		lossPerUnit = one.Clone()
		lossErr = new(uint256.Int)
	} else {
		lossNumerator, err := fpmath.Mul(debt, one)
		if err != nil {
			return OffsetResult{}, err
		}
		if lossNumerator, err = fpmath.Sub(lossNumerator, sp.LastLossError); err != nil {
			return OffsetResult{}, err
		}
		lossPerUnit = new(uint256.Int).Div(lossNumerator, total)
		lossPerUnit.AddUint64(lossPerUnit, 1)
		lossErr = new(uint256.Int).Mul(lossPerUnit, total)
		lossErr.Sub(lossErr, lossNumerator)
	}

	// S at the pre-transition (epoch, scale)
	marginal, err := fpmath.Mul(collGainPerUnit, sp.P)
	if err != nil {
		return OffsetResult{}, err
	}
	newS, err := fpmath.Add(sp.CurrentS(), marginal)
	if err != nil {
		return OffsetResult{}, err
	}

	newTotal, err := fpmath.Sub(total, debt)
	if err != nil {
		return OffsetResult{}, err
	}
	newColl, err := fpmath.Add(sp.CollBalance, coll)
	if err != nil {
		return OffsetResult{}, err
	}

	res := OffsetResult{Applied: true}
	newP, newEpoch, newScale := sp.P, sp.CurrentEpoch, sp.CurrentScale

	factor := new(uint256.Int).Sub(one, lossPerUnit)
	switch {
	case factor.IsZero():
		newEpoch++
		newScale = 0
		newP = one.Clone()
		res.EpochAdvanced = true
	default:
		scaled, err := fpmath.MulDiv(sp.P, factor, one, fpmath.RoundDown)
		if err != nil {
			return OffsetResult{}, err
		}
		if scaled.Lt(scaleFactor) {
			product := new(uint256.Int).Mul(sp.P, factor)
			product.Mul(product, scaleFactor)
			newP = product.Div(product, one)
			newScale++
			res.ScaleAdvanced = true
		} else {
			newP = scaled
		}
	}

	sp.S[EpochScale{Epoch: sp.CurrentEpoch, Scale: sp.CurrentScale}] = newS
	sp.LastCollError = collErr
	sp.LastLossError = lossErr
	sp.P = newP
	sp.CurrentEpoch = newEpoch
	sp.CurrentScale = newScale
	sp.TotalDeposits = newTotal
	sp.CollBalance = newColl
	return res, nil
}

// IssueRewards spreads reward tokens over the current deposits by raising G.
// It is a no-op when the pool is empty; returns false in that case.
func (sp *StabilityPool) IssueRewards(amount *uint256.Int) (bool, error) {
	if sp.TotalDeposits.IsZero() || amount.IsZero() {
		return false, nil
	}

	rewardPerUnit, rewardErr, err := perUnit(amount, sp.LastRewardError, sp.TotalDeposits)
	if err != nil {
		return false, err
	}
	marginal, err := fpmath.Mul(rewardPerUnit, sp.P)
	if err != nil {
		return false, err
	}
	newG, err := fpmath.Add(sp.CurrentG(), marginal)
	if err != nil {
		return false, err
	}
	balance, err := fpmath.Add(sp.RewardBalance, amount)
	if err != nil {
		return false, err
	}

	sp.G[EpochScale{Epoch: sp.CurrentEpoch, Scale: sp.CurrentScale}] = newG
	sp.LastRewardError = rewardErr
	sp.RewardBalance = balance
	return true, nil
}

// Clone returns a deep copy.
func (sp *StabilityPool) Clone() *StabilityPool {
	c := &StabilityPool{
		TotalDeposits:   sp.TotalDeposits.Clone(),
		P:               sp.P.Clone(),
		CurrentEpoch:    sp.CurrentEpoch,
		CurrentScale:    sp.CurrentScale,
		S:               make(map[EpochScale]*uint256.Int, len(sp.S)),
		G:               make(map[EpochScale]*uint256.Int, len(sp.G)),
		LastCollError:   sp.LastCollError.Clone(),
		LastLossError:   sp.LastLossError.Clone(),
		LastRewardError: sp.LastRewardError.Clone(),
		CollBalance:     sp.CollBalance.Clone(),
		RewardBalance:   sp.RewardBalance.Clone(),
		deposits:        make(map[uuid.UUID]*Deposit, len(sp.deposits)),
	}
	for k, v := range sp.S {
		c.S[k] = v.Clone()
	}
	for k, v := range sp.G {
		c.G[k] = v.Clone()
	}
	for k, v := range sp.deposits {
		c.deposits[k] = v.Clone()
	}
	return c
}
