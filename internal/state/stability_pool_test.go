package state_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

func wad(s string) *uint256.Int {
	return fpmath.MustParseWad(s)
}

// assertNear checks |got - want| <= tolWei.
func assertNear(t *testing.T, want, got *uint256.Int, tolWei uint64, msg string) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Gt(want) {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	assert.Truef(t, diff.Cmp(uint256.NewInt(tolWei)) <= 0,
		"%s: got %s, want %s (diff %s wei)", msg, fpmath.FormatWad(got), fpmath.FormatWad(want), diff.Dec())
}

func mustProvide(t *testing.T, sp *state.StabilityPool, who uuid.UUID, amount string) state.DepositChange {
	t.Helper()
	ch, err := sp.Provide(who, wad(amount))
	require.NoError(t, err)
	return ch
}

func mustOffset(t *testing.T, sp *state.StabilityPool, debt, coll string) state.OffsetResult {
	t.Helper()
	res, err := sp.Offset(wad(debt), wad(coll))
	require.NoError(t, err)
	return res
}

func compounded(t *testing.T, sp *state.StabilityPool, who uuid.UUID) *uint256.Int {
	t.Helper()
	v, err := sp.CompoundedDeposit(who)
	require.NoError(t, err)
	return v
}

func collGain(t *testing.T, sp *state.StabilityPool, who uuid.UUID) *uint256.Int {
	t.Helper()
	v, err := sp.CollGain(who)
	require.NoError(t, err)
	return v
}

func TestStabilityPool_OffsetScenario(t *testing.T) {
	sp := state.NewStabilityPool()
	a, b := uuid.New(), uuid.New()

	mustProvide(t, sp, a, "100")
	mustProvide(t, sp, b, "300")
	mustOffset(t, sp, "40", "1")

	// The loss per unit rounds up by one wei, so deposits land a few wei
	// under the exact values.
	assertNear(t, wad("90"), compounded(t, sp, a), 1000, "A deposit")
	assertNear(t, wad("270"), compounded(t, sp, b), 1000, "B deposit")
	assert.Equal(t, wad("0.25"), collGain(t, sp, a))
	assert.Equal(t, wad("0.75"), collGain(t, sp, b))
	assert.Equal(t, wad("360"), sp.TotalDeposits)
	assert.Equal(t, wad("1"), sp.CollBalance)
}

func TestStabilityPool_ShareExactness(t *testing.T) {
	sp := state.NewStabilityPool()
	a, b := uuid.New(), uuid.New()

	mustProvide(t, sp, a, "100")
	mustProvide(t, sp, b, "300")
	mustOffset(t, sp, "13", "0.7")
	mustOffset(t, sp, "101.5", "3.3")
	mustOffset(t, sp, "7", "0.01")

	ca, cb := compounded(t, sp, a), compounded(t, sp, b)
	ga, gb := collGain(t, sp, a), collGain(t, sp, b)

	// B holds exactly three times A's share.
	assertNear(t, new(uint256.Int).Mul(ca, uint256.NewInt(3)), cb, 10, "compounded ratio")
	assertNear(t, new(uint256.Int).Mul(ga, uint256.NewInt(3)), gb, 10, "gain ratio")

	// Gains never exceed what the pool holds.
	sum := new(uint256.Int).Add(ga, gb)
	assert.True(t, !sum.Gt(sp.CollBalance))
	assertNear(t, wad("4.01"), sum, 1_000_000, "total gains")
}

func TestStabilityPool_EpochWipeout(t *testing.T) {
	sp := state.NewStabilityPool()
	a, c := uuid.New(), uuid.New()

	mustProvide(t, sp, a, "100")
	res := mustOffset(t, sp, "100", "1")
	require.True(t, res.EpochAdvanced)
	assert.Equal(t, uint64(1), sp.CurrentEpoch)
	assert.Equal(t, uint64(0), sp.CurrentScale)
	assert.Equal(t, fpmath.One(), sp.P)
	assert.True(t, sp.TotalDeposits.IsZero())

	assert.True(t, compounded(t, sp, a).IsZero(), "old depositor must read zero")
	assert.Equal(t, wad("1"), collGain(t, sp, a), "gain from the drained epoch survives")

	mustProvide(t, sp, c, "50")
	mustOffset(t, sp, "10", "0.5")

	assertNear(t, wad("40"), compounded(t, sp, c), 100, "new depositor deposit")
	assert.Equal(t, wad("0.5"), collGain(t, sp, c))
	assert.True(t, compounded(t, sp, a).IsZero())
	assert.Equal(t, wad("1"), collGain(t, sp, a))
}

// seededPool leaves P around 1e13 and then adds a fresh depositor B, so a
// later 99.99% loss pushes P below the precision floor.
func seededPool(t *testing.T, b uuid.UUID) *state.StabilityPool {
	t.Helper()
	sp := state.NewStabilityPool()
	mustProvide(t, sp, uuid.New(), "1000")
	mustOffset(t, sp, "999.99", "0")
	mustProvide(t, sp, b, "1000")
	return sp
}

func TestStabilityPool_ScaleRollover(t *testing.T) {
	b := uuid.New()

	single := seededPool(t, b)
	res := mustOffset(t, single, "999.95", "9.9995")
	require.True(t, res.ScaleAdvanced)
	require.Equal(t, uint64(1), single.CurrentScale)

	stepped := seededPool(t, b)
	crossed := false
	for _, step := range [][2]string{
		{"900", "9"},
		{"90", "0.9"},
		{"9", "0.09"},
		{"0.9", "0.009"},
		{"0.05", "0.0005"},
	} {
		r := mustOffset(t, stepped, step[0], step[1])
		crossed = crossed || r.ScaleAdvanced
	}
	require.True(t, crossed)
	require.Equal(t, uint64(1), stepped.CurrentScale)

	wantDeposit := compounded(t, single, b)
	gotDeposit := compounded(t, stepped, b)
	require.False(t, wantDeposit.IsZero())
	assert.InEpsilon(t, fpmath.ToFloat64(wantDeposit), fpmath.ToFloat64(gotDeposit), 1e-6)

	wantGain := collGain(t, single, b)
	gotGain := collGain(t, stepped, b)
	assert.InEpsilon(t, fpmath.ToFloat64(wantGain), fpmath.ToFloat64(gotGain), 1e-6)
}

func TestStabilityPool_RoundTrip(t *testing.T) {
	sp := state.NewStabilityPool()
	a := uuid.New()

	mustProvide(t, sp, a, "123.456")
	ch, err := sp.Withdraw(a, wad("123.456"))
	require.NoError(t, err)

	assert.Equal(t, wad("123.456"), ch.Withdrawn)
	assert.True(t, ch.CollGain.IsZero())
	assert.True(t, ch.RewardGain.IsZero())
	assert.True(t, ch.NewDeposit.IsZero())
	assert.Nil(t, sp.GetDeposit(a), "empty deposit drops its snapshot")
	assert.True(t, sp.TotalDeposits.IsZero())
}

func TestStabilityPool_WithdrawCapsAtCompounded(t *testing.T) {
	sp := state.NewStabilityPool()
	a := uuid.New()

	mustProvide(t, sp, a, "100")
	mustOffset(t, sp, "50", "1")

	ch, err := sp.Withdraw(a, wad("1000"))
	require.NoError(t, err)
	assertNear(t, wad("50"), ch.Withdrawn, 1000, "withdrawn")
	assert.Equal(t, wad("1"), ch.CollGain)
	assert.True(t, ch.NewDeposit.IsZero())
	assertNear(t, fpmath.Zero(), sp.TotalDeposits, 1000, "rounding dust left in the pool")
	assert.True(t, sp.CollBalance.IsZero())
}

func TestStabilityPool_WithdrawWithoutDeposit(t *testing.T) {
	sp := state.NewStabilityPool()
	_, err := sp.Withdraw(uuid.New(), wad("1"))
	require.ErrorIs(t, err, state.ErrNoDeposit)
}

func TestStabilityPool_ProvideZero(t *testing.T) {
	sp := state.NewStabilityPool()
	_, err := sp.Provide(uuid.New(), fpmath.Zero())
	require.ErrorIs(t, err, state.ErrZeroAmount)
}

func TestStabilityPool_OffsetOnEmptyPoolIsNoop(t *testing.T) {
	sp := state.NewStabilityPool()
	res := mustOffset(t, sp, "10", "1")
	assert.False(t, res.Applied)
	assert.True(t, sp.CollBalance.IsZero())
	assert.Equal(t, fpmath.One(), sp.P)
}

func TestStabilityPool_OffsetExceedsDeposits(t *testing.T) {
	sp := state.NewStabilityPool()
	mustProvide(t, sp, uuid.New(), "10")
	_, err := sp.Offset(wad("11"), wad("1"))
	require.ErrorIs(t, err, state.ErrOffsetExceedsPool)
}

func TestStabilityPool_IssueRewards(t *testing.T) {
	sp := state.NewStabilityPool()
	a, b := uuid.New(), uuid.New()

	applied, err := sp.IssueRewards(wad("5"))
	require.NoError(t, err)
	assert.False(t, applied, "no depositors, no issuance")

	mustProvide(t, sp, a, "100")
	mustProvide(t, sp, b, "300")
	applied, err = sp.IssueRewards(wad("8"))
	require.NoError(t, err)
	require.True(t, applied)

	ga, err := sp.RewardGain(a)
	require.NoError(t, err)
	gb, err := sp.RewardGain(b)
	require.NoError(t, err)
	assert.Equal(t, wad("2"), ga)
	assert.Equal(t, wad("6"), gb)

	ch, err := sp.Withdraw(a, fpmath.Zero())
	require.NoError(t, err)
	assert.Equal(t, wad("2"), ch.RewardGain)
	assert.Equal(t, wad("6"), sp.RewardBalance)
}

func TestStabilityPool_MoveCollGain(t *testing.T) {
	sp := state.NewStabilityPool()
	a := uuid.New()

	mustProvide(t, sp, a, "100")
	_, err := sp.MoveCollGain(a)
	require.ErrorIs(t, err, state.ErrNoCollGain)

	mustOffset(t, sp, "20", "2")
	ch, err := sp.MoveCollGain(a)
	require.NoError(t, err)
	assert.Equal(t, wad("2"), ch.CollGain)
	assertNear(t, wad("80"), ch.NewDeposit, 1000, "deposit kept")
	assert.True(t, collGain(t, sp, a).IsZero())
}

func TestStabilityPool_CloneIsIndependent(t *testing.T) {
	sp := state.NewStabilityPool()
	a := uuid.New()
	mustProvide(t, sp, a, "100")

	c := sp.Clone()
	mustOffset(t, c, "50", "1")

	assert.Equal(t, wad("100"), compounded(t, sp, a))
	assert.Equal(t, fpmath.One(), sp.P)
}
