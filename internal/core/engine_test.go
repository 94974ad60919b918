package core_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/protocol"
)

const baseTs = int64(1_700_000_000_000_000)

func w(s string) *uint256.Int {
	return fpmath.MustParseWad(s)
}

type testCore struct {
	*core.DeterministicCore
	persist    chan core.CoreOutput
	projection chan core.CoreOutput
	metrics    *observability.Metrics
}

func newTestCore(t *testing.T, projectionCap int) *testCore {
	t.Helper()
	tc := &testCore{
		persist:    make(chan core.CoreOutput, 1024),
		projection: make(chan core.CoreOutput, projectionCap),
		metrics:    observability.NewMetrics(prometheus.NewRegistry()),
	}
	tc.DeterministicCore = core.NewDeterministicCore(
		core.Config{Logger: zerolog.Nop()}, tc.persist, tc.projection, nil, tc.metrics)
	return tc
}

func header(seq int64) event.Header {
	return event.Header{CommandID: uuid.New(), Sequence: seq, Timestamp: baseTs + seq*1_000_000}
}

func price(p string, seq int64) *event.PriceUpdated {
	return &event.PriceUpdated{Header: header(0), Price: w(p), PriceSequence: seq}
}

func deposit(user uuid.UUID, amount string, seq int64) *event.AssetDeposited {
	return &event.AssetDeposited{Header: header(seq), UserID: user, Asset: "ETH", Amount: w(amount)}
}

func withdraw(user uuid.UUID, amount string, seq int64) *event.AssetWithdrawn {
	return &event.AssetWithdrawn{Header: header(seq), UserID: user, Asset: "ETH", Amount: w(amount)}
}

func openTrove(owner uuid.UUID, coll, stable string, seq int64) *event.TroveOpened {
	return &event.TroveOpened{
		Header:       header(seq),
		Owner:        owner,
		Collateral:   w(coll),
		StableAmount: w(stable),
		MaxFee:       w("0.05"),
	}
}

// scenario returns a short command stream that prices the collateral and
// opens two Troves.
func scenario(alice, bob uuid.UUID) []event.Event {
	return []event.Event{
		price("200", 1),
		deposit(alice, "30", 0),
		openTrove(alice, "30", "1800", 1),
		deposit(bob, "60", 0),
		openTrove(bob, "60", "3800", 1),
		price("190", 2),
	}
}

func (tc *testCore) mustProcess(t *testing.T, evt event.Event) *core.CoreOutput {
	t.Helper()
	out, err := tc.ProcessEvent(evt, []byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestProcessEvent_AssignsSequenceAndChainsHashes(t *testing.T) {
	tc := newTestCore(t, 1024)
	alice, bob := uuid.New(), uuid.New()

	prev := core.GenesisHash()
	for i, evt := range scenario(alice, bob) {
		out := tc.mustProcess(t, evt)
		assert.Equal(t, int64(i), out.Envelope.Sequence)
		assert.Equal(t, prev, out.Envelope.PrevHash, "seq %d", i)
		assert.Equal(t, core.ChainHash(prev, out.Envelope.Sequence, out.StateDelta), out.Envelope.StateHash)
		assert.Equal(t, evt.Partition(), out.Envelope.Partition)
		assert.Equal(t, evt.IdempotencyKey(), out.Envelope.IdempotencyKey)
		prev = out.Envelope.StateHash
	}

	assert.Equal(t, int64(6), tc.GetSequence())
	assert.Equal(t, prev, tc.GetStateHash())
	assert.Len(t, tc.persist, 6)
	assert.Len(t, tc.projection, 6)

	trove, err := tc.TroveView(alice)
	require.NoError(t, err)
	assert.Equal(t, w("30").Dec(), trove.Coll.Dec())
	assert.True(t, tc.WalletBalance(alice, ledger.AssetCollateral).IsZero())
	assert.Equal(t, w("1800").Dec(), tc.WalletBalance(alice, ledger.AssetStable).Dec())

	view, err := tc.SystemView()
	require.NoError(t, err)
	assert.Equal(t, w("190").Dec(), view.Price.Dec())
	assert.Equal(t, 2, view.ActiveTroves)
	assert.Equal(t, float64(6), promtest.ToFloat64(tc.metrics.CoreSequence))
}

func TestProcessEvent_DuplicateIgnored(t *testing.T) {
	tc := newTestCore(t, 1024)
	alice := uuid.New()
	dep := deposit(alice, "10", 0)
	tc.mustProcess(t, dep)
	hash := tc.GetStateHash()

	out, err := tc.ProcessEvent(dep, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, int64(1), tc.GetSequence())
	assert.Equal(t, hash, tc.GetStateHash())
	assert.Equal(t, w("10").Dec(), tc.WalletBalance(alice, ledger.AssetCollateral).Dec())
	assert.Equal(t, float64(1), promtest.ToFloat64(
		tc.metrics.IdempotencyDuplicates.WithLabelValues("AssetDeposited", core.TierLRU)))
}

func TestProcessEvent_SequenceGapRejected(t *testing.T) {
	tc := newTestCore(t, 1024)
	alice := uuid.New()
	tc.mustProcess(t, deposit(alice, "10", 0))

	_, err := tc.ProcessEvent(deposit(alice, "10", 2), nil)
	assert.ErrorIs(t, err, core.ErrSequenceGap)

	_, err = tc.ProcessEvent(deposit(alice, "10", 0), nil)
	assert.ErrorIs(t, err, core.ErrOutOfOrder)

	assert.Equal(t, int64(1), tc.GetSequence())
	tc.mustProcess(t, deposit(alice, "10", 1))
	assert.Equal(t, float64(1), promtest.ToFloat64(
		tc.metrics.EventSequenceGap.WithLabelValues(event.AccountPartition(alice))))
}

func TestProcessEvent_RejectionLeavesStateUntouched(t *testing.T) {
	tc := newTestCore(t, 1024)
	alice := uuid.New()
	tc.mustProcess(t, price("200", 1))
	tc.mustProcess(t, deposit(alice, "10", 0))
	hash := tc.GetStateHash()

	_, err := tc.ProcessEvent(withdraw(alice, "11", 1), nil)
	assert.ErrorIs(t, err, protocol.ErrInsufficientBalance)
	assert.Equal(t, protocol.KindInvariant, protocol.KindOf(err))

	// below the minimum net debt
	_, err = tc.ProcessEvent(openTrove(alice, "10", "100", 1), nil)
	assert.ErrorIs(t, err, protocol.ErrBelowMinNetDebt)

	assert.Equal(t, hash, tc.GetStateHash())
	assert.Equal(t, int64(2), tc.GetSequence())
	assert.Equal(t, w("10").Dec(), tc.WalletBalance(alice, ledger.AssetCollateral).Dec())
	_, err = tc.TroveView(alice)
	assert.ErrorIs(t, err, protocol.ErrTroveNotFound)

	// the rejected commands did not consume their source sequence
	tc.mustProcess(t, withdraw(alice, "4", 1))
	assert.Equal(t, w("6").Dec(), tc.WalletBalance(alice, ledger.AssetCollateral).Dec())
	assert.Equal(t, float64(1), promtest.ToFloat64(
		tc.metrics.CoreEventsRejected.WithLabelValues("AssetWithdrawn", "invariant")))
}

func TestProcessEvent_PriceSequence(t *testing.T) {
	tc := newTestCore(t, 1024)
	tc.mustProcess(t, price("200", 1))
	// gaps are tolerated on the price feed
	tc.mustProcess(t, price("210", 5))

	_, err := tc.ProcessEvent(price("150", 3), nil)
	assert.ErrorIs(t, err, core.ErrStalePrice)
	_, err = tc.ProcessEvent(price("150", 5), nil)
	assert.ErrorIs(t, err, core.ErrStalePrice)

	view, err := tc.SystemView()
	require.NoError(t, err)
	assert.Equal(t, w("210").Dec(), view.Price.Dec())
	assert.Equal(t, int64(2), tc.GetSequence())
	// only the skip from 1 to 5 counts; the first price is not a gap
	assert.Equal(t, float64(1), promtest.ToFloat64(
		tc.metrics.EventSequenceGap.WithLabelValues(event.PartitionPrice)))
}

func TestProcessEvent_ProjectionDropsWhenFull(t *testing.T) {
	tc := newTestCore(t, 1)
	alice := uuid.New()
	tc.mustProcess(t, deposit(alice, "1", 0))
	tc.mustProcess(t, deposit(alice, "1", 1))

	assert.Len(t, tc.persist, 2)
	assert.Len(t, tc.projection, 1)
	assert.Equal(t, float64(1), promtest.ToFloat64(tc.metrics.ProjectionDrops.WithLabelValues("core")))
}

func TestStateHash_DeterministicAcrossCores(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	stream := scenario(alice, bob)

	a := newTestCore(t, 1024)
	b := newTestCore(t, 1024)
	for _, evt := range stream {
		outA := a.mustProcess(t, evt)
		outB := b.mustProcess(t, evt)
		assert.Equal(t, outA.Envelope.StateHash, outB.Envelope.StateHash)
	}
	assert.Equal(t, a.GetStateHash(), b.GetStateHash())

	// a different amount diverges the chain
	c := newTestCore(t, 1024)
	for _, evt := range stream[:3] {
		c.mustProcess(t, evt)
	}
	c.mustProcess(t, deposit(bob, "61", 0))
	d := newTestCore(t, 1024)
	for _, evt := range stream[:4] {
		d.mustProcess(t, evt)
	}
	assert.NotEqual(t, c.GetStateHash(), d.GetStateHash())
}

func TestReplayEvent_VerifiesHashChain(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	live := newTestCore(t, 1024)
	var logged []*core.CoreOutput
	for _, evt := range scenario(alice, bob) {
		logged = append(logged, live.mustProcess(t, evt))
	}

	replica := newTestCore(t, 0)
	for _, out := range logged {
		require.NoError(t, replica.ReplayEvent(out.Event, out.Envelope.Payload, out.Envelope.Sequence, out.Envelope.StateHash))
	}
	assert.Equal(t, live.GetStateHash(), replica.GetStateHash())
	assert.Equal(t, live.GetSequence(), replica.GetSequence())
	assert.Empty(t, replica.persist)
	assert.Empty(t, replica.projection)

	tampered := newTestCore(t, 0)
	first := logged[0]
	err := tampered.ReplayEvent(first.Event, nil, first.Envelope.Sequence, [32]byte{1})
	assert.ErrorIs(t, err, core.ErrReplayDiverged)

	err = newTestCore(t, 0).ReplayEvent(first.Event, nil, 3, first.Envelope.StateHash)
	assert.ErrorIs(t, err, core.ErrReplayDiverged)
}

func TestSnapshot_RestoreContinuesChain(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	src := newTestCore(t, 1024)
	for _, evt := range scenario(alice, bob) {
		src.mustProcess(t, evt)
	}

	raw, err := json.Marshal(src.CreateSnapshotState())
	require.NoError(t, err)
	var snap core.SnapshotState
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, int64(5), snap.Sequence)

	dst := newTestCore(t, 1024)
	require.NoError(t, dst.RestoreFromSnapshot(&snap))
	assert.Equal(t, src.GetSequence(), dst.GetSequence())
	assert.Equal(t, src.GetStateHash(), dst.GetStateHash())

	// idempotency keys and partition sequences survive the restore
	_, err = dst.ProcessEvent(price("195", 2), nil)
	assert.ErrorIs(t, err, core.ErrStalePrice)
	_, err = dst.ProcessEvent(deposit(alice, "1", 1), nil)
	assert.ErrorIs(t, err, core.ErrOutOfOrder)

	next := &event.AssetDeposited{Header: header(2), UserID: alice, Asset: "ETH", Amount: w("5")}
	src2 := newTestCore(t, 1024)
	require.NoError(t, src2.RestoreFromSnapshot(&snap))
	a := src2.mustProcess(t, next)
	b := newTestCore(t, 1024)
	require.NoError(t, b.RestoreFromSnapshot(&snap))
	assert.Equal(t, a.Envelope.StateHash, b.mustProcess(t, next).Envelope.StateHash)
}

func TestSnapshot_RejectsInconsistentLedger(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	src := newTestCore(t, 1024)
	for _, evt := range scenario(alice, bob) {
		src.mustProcess(t, evt)
	}
	snap := src.CreateSnapshotState()
	for i := range snap.Balances {
		if snap.Balances[i].Scope == ledger.AccountScopeSystem && snap.Balances[i].SubType == ledger.SubTypeActivePool {
			snap.Balances[i].Amount = "1"
		}
	}

	dst := newTestCore(t, 1024)
	assert.Error(t, dst.RestoreFromSnapshot(snap))
	assert.Equal(t, int64(0), dst.GetSequence())
}

type fakeDBChecker struct {
	known map[string]bool
	err   error
}

func (f *fakeDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[eventType+":"+key], nil
}

func TestIdempotency_PostgresTier(t *testing.T) {
	alice := uuid.New()
	seen := deposit(alice, "1", 0)
	db := &fakeDBChecker{known: map[string]bool{"AssetDeposited:" + seen.IdempotencyKey(): true}}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := core.NewDeterministicCore(core.Config{Logger: zerolog.Nop()}, nil, nil, db, metrics)

	out, err := c.ProcessEvent(seen, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, float64(1), promtest.ToFloat64(
		metrics.IdempotencyDuplicates.WithLabelValues("AssetDeposited", core.TierPostgres)))

	// replay never consults the database: the logged command is applied
	require.NoError(t, c.ReplayEvent(seen, nil, 0, replayHash(t, seen)))
	assert.Equal(t, int64(1), c.GetSequence())
}

func TestIdempotency_PostgresErrorDoesNotBlock(t *testing.T) {
	db := &fakeDBChecker{err: assert.AnError}
	c := core.NewDeterministicCore(core.Config{Logger: zerolog.Nop()}, nil, nil, db, nil)
	out, err := c.ProcessEvent(deposit(uuid.New(), "1", 0), nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
}

// replayHash computes the hash a fresh core assigns to evt.
func replayHash(t *testing.T, evt event.Event) [32]byte {
	t.Helper()
	c := core.NewDeterministicCore(core.Config{Logger: zerolog.Nop()}, nil, nil, nil, nil)
	out, err := c.ProcessEvent(evt, nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out.Envelope.StateHash
}

func TestIdempotency_DedupMetrics(t *testing.T) {
	db := &fakeDBChecker{err: assert.AnError}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := core.NewDeterministicCore(core.Config{Logger: zerolog.Nop(), LRUCapacity: 1}, nil, nil, db, metrics)

	alice, bob := uuid.New(), uuid.New()
	for _, evt := range []event.Event{deposit(alice, "1", 0), deposit(bob, "1", 0), deposit(alice, "1", 1)} {
		out, err := c.ProcessEvent(evt, nil)
		require.NoError(t, err)
		require.NotNil(t, out)
	}

	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.DedupLRUSize))
	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.DedupLRUEvictions))
	assert.Equal(t, float64(3), promtest.ToFloat64(metrics.DedupTier2Errors))
}
