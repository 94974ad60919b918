package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/protocol"
	"TroveLedger/internal/state"
)

// supplyCheckInterval is how often the global supply invariant is verified.
const supplyCheckInterval = 1000

// ErrReplayDiverged means a replayed command did not reproduce its logged
// sequence or state hash.
var ErrReplayDiverged = errors.New("replay diverged from event log")

// Config configures a DeterministicCore.
type Config struct {
	StartSequence int64
	Params        *state.Params
	LRUCapacity   int
	Logger        zerolog.Logger
}

// DeterministicCore is the single writer over the protocol state and the
// token ledger. Commands are applied one at a time under mu; readers take
// the read lock.
type DeterministicCore struct {
	mu sync.RWMutex

	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	system            *protocol.System
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	// dedup counters already exported
	reportedEvictions   int64
	reportedTier2Errors int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied command.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	Batch      *ledger.Batch
	Result     *protocol.Result
	StateDelta []byte
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	params := cfg.Params
	if params == nil {
		params = state.DefaultParams()
	}
	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	balanceTracker := ledger.NewBalanceTracker()
	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		system:            protocol.NewSystem(params),
		idempotency:       NewIdempotencyChecker(capacity, dbChecker, cfg.Logger),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            cfg.Logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent applies one command. payload is its wire JSON, stored in the
// event log for replay. A duplicate returns (nil, nil). A rejected command
// returns the protocol error and leaves every piece of state untouched.
func (c *DeterministicCore) ProcessEvent(evt event.Event, payload []byte) (*CoreOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.apply(evt, payload, false)
	if err != nil || out == nil {
		return nil, err
	}

	// Persistence blocks so no event is lost; projections drop when full and
	// catch up from the log.
	if c.persistChan != nil {
		select {
		case c.persistChan <- *out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- *out
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
	return out, nil
}

// ReplayEvent re-applies a logged command during recovery. Nothing is
// emitted, and the command must land on the logged sequence and state hash.
func (c *DeterministicCore) ReplayEvent(evt event.Event, payload []byte, sequence int64, stateHash [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sequence != c.sequence {
		return fmt.Errorf("%w: logged sequence %d, core at %d", ErrReplayDiverged, sequence, c.sequence)
	}
	out, err := c.apply(evt, payload, true)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", sequence, err)
	}
	if out == nil {
		return fmt.Errorf("%w: seq=%d treated as duplicate", ErrReplayDiverged, sequence)
	}
	if out.Envelope.StateHash != stateHash {
		return fmt.Errorf("%w: seq=%d hash %x, logged %x", ErrReplayDiverged, sequence, out.Envelope.StateHash, stateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// apply runs the pipeline for one command. During replay every command is
// already in the event log, so only the in-memory tier is consulted.
func (c *DeterministicCore) apply(evt event.Event, payload []byte, replay bool) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	partition := evt.Partition()
	sourceSequence := evt.SourceSequence()

	// Step 1: two-tier idempotency
	if isDup, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey, !replay); isDup {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	// Step 2: source sequence
	var seqErr error
	if evt.EventType() == event.EventTypePriceUpdated {
		skipped, err := c.sequenceValidator.ValidatePriceSequence(partition, sourceSequence)
		if skipped && !replay && c.metrics != nil {
			c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
		seqErr = err
	} else {
		seqErr = c.sequenceValidator.ValidateSequence(partition, sourceSequence, false)
	}
	if seqErr != nil {
		c.reject(eventType, partition, seqErr)
		return nil, seqErr
	}

	// Step 3: dispatch against a fresh recorder
	rec := ledger.NewRecorder(c.balanceTracker, idempotencyKey, c.sequence, evt.TimestampUs())
	tx := protocol.Tx{Ledger: rec, NowUs: evt.TimestampUs()}
	res, err := c.dispatch(tx, evt)
	if err != nil {
		var fe *protocol.FatalError
		if errors.As(err, &fe) {
			panic(fmt.Sprintf("FATAL: %s seq=%d: %v", eventType, c.sequence, err))
		}
		c.reject(eventType, partition, err)
		return nil, err
	}

	// Step 4: the protocol state already moved, so the batch must apply
	batch := rec.Batch()
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch for %s seq=%d: %v", eventType, c.sequence, err))
	}
	if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch for %s seq=%d: %v", eventType, c.sequence, err))
	}
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s seq=%d: %v", eventType, c.sequence, err))
	}

	// Steps 5-6: digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, res.Touched)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      time.UnixMicro(evt.TimestampUs()).UTC(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	c.sequenceValidator.Commit(partition, sourceSequence)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.sequence++

	c.recordApplied(eventType, batch, res, start)
	c.logger.Debug().
		Int64("seq", envelope.Sequence).
		Str("event_type", eventType).
		Str("partition", partition).
		Int("journals", len(batch.Journals)).
		Msg("command applied")

	return &CoreOutput{
		Envelope:   envelope,
		Event:      evt,
		Batch:      batch,
		Result:     res,
		StateDelta: stateDigest,
	}, nil
}

func (c *DeterministicCore) reject(eventType, partition string, err error) {
	reason := protocol.KindOf(err).String()
	switch {
	case errors.Is(err, ErrSequenceGap):
		reason = "sequence_gap"
		if c.metrics != nil {
			c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
	case errors.Is(err, ErrOutOfOrder):
		reason = "out_of_order"
		if c.metrics != nil {
			c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
	case errors.Is(err, ErrStalePrice):
		reason = "stale_price"
	}
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
	c.observeDedup()
	c.logger.Warn().Err(err).Str("event_type", eventType).Str("reason", reason).Msg("command rejected")
}

func (c *DeterministicCore) recordApplied(eventType string, batch *ledger.Batch, res *protocol.Result, start time.Time) {
	if c.metrics == nil {
		return
	}
	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}
	c.metrics.ObserveResult(res)
	if view, err := c.system.View(); err == nil {
		c.metrics.ObserveSystem(view)
	}
	c.observeDedup()
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
}

// observeDedup publishes the dedup cache state. The counters advance by
// what the checker recorded since the previous call.
func (c *DeterministicCore) observeDedup() {
	if c.metrics == nil {
		return
	}
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	if n := c.idempotency.lru.Evictions(); n > c.reportedEvictions {
		c.metrics.DedupLRUEvictions.Add(float64(n - c.reportedEvictions))
		c.reportedEvictions = n
	}
	if n := c.idempotency.Tier2Errors(); n > c.reportedTier2Errors {
		c.metrics.DedupTier2Errors.Add(float64(n - c.reportedTier2Errors))
		c.reportedTier2Errors = n
	}
}

// computeStateDigest serializes the balances the batch touched followed by
// the protocol digest of the touched identities.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, touched []uuid.UUID) []byte {
	affected := make(map[ledger.AccountKey]struct{}, 2*len(batch.Journals))
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = struct{}{}
		affected[j.CreditAccount] = struct{}{}
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	ledger.SortAccountKeys(accounts)

	protocolDigest := c.system.Digest(touched)
	digest := make([]byte, 0, len(accounts)*52+len(protocolDigest))
	for _, key := range accounts {
		digest = append(digest, byte(key.Scope))
		digest = append(digest, key.EntityID[:]...)
		digest = append(digest, byte(key.SubType))
		digest = binary.LittleEndian.AppendUint16(digest, uint16(key.AssetID))
		balance := c.balanceTracker.GetBalance(key).Bytes32()
		digest = append(digest, balance[:]...)
	}
	return append(digest, protocolDigest...)
}

// postCheckInvariants verifies every pool account backs its accumulator and,
// periodically, that each asset's balances sum to its supply.
func (c *DeterministicCore) postCheckInvariants() error {
	for key, expected := range c.system.PoolBalances() {
		if err := c.validator.ValidatePoolBalance(key, expected); err != nil {
			return err
		}
	}
	if c.sequence > 0 && c.sequence%supplyCheckInterval == 0 {
		if err := c.validator.ValidateSupplyConservation(); err != nil {
			return err
		}
	}
	return nil
}

// --- Read access ---

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

func (c *DeterministicCore) SystemView() (protocol.SystemView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system.View()
}

func (c *DeterministicCore) TroveView(owner uuid.UUID) (protocol.TroveView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system.Trove(owner)
}

func (c *DeterministicCore) DepositView(depositor uuid.UUID) (protocol.DepositView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system.Deposit(depositor)
}

func (c *DeterministicCore) StakeView(staker uuid.UUID) (protocol.StakeView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.system.StakeOf(staker)
}

// WalletBalance returns the in-memory wallet balance.
func (c *DeterministicCore) WalletBalance(owner uuid.UUID, asset ledger.AssetID) *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balanceTracker.GetWalletBalance(owner, asset)
}
