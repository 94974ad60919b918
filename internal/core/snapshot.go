package core

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
)

// SnapshotState is the serializable in-memory state after Sequence.
type SnapshotState struct {
	Sequence        int64              `json:"sequence"` // last applied, -1 before the first command
	StateHash       string             `json:"state_hash"`
	System          *protocol.Snapshot `json:"system"`
	Balances        []BalanceEntry     `json:"balances"`
	Supply          []SupplyEntry      `json:"supply"`
	SequenceState   map[string]int64   `json:"sequence_state"`
	IdempotencyKeys []string           `json:"idempotency_keys"`
}

type BalanceEntry struct {
	Scope   ledger.AccountScope   `json:"scope"`
	Entity  uuid.UUID             `json:"entity"`
	SubType ledger.AccountSubType `json:"sub_type"`
	Asset   ledger.AssetID        `json:"asset"`
	Amount  string                `json:"amount"`
}

type SupplyEntry struct {
	Asset  ledger.AssetID `json:"asset"`
	Amount string         `json:"amount"`
}

// StateHashBytes decodes the hex state hash.
func (s *SnapshotState) StateHashBytes() ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(s.StateHash)
	if err != nil {
		return h, fmt.Errorf("state hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("state hash: want %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// CreateSnapshotState captures the current in-memory state.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hash := c.hasher.GetPrevHash()
	snap := &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       hex.EncodeToString(hash[:]),
		System:          c.system.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}

	balances := c.balanceTracker.Snapshot()
	for _, key := range c.balanceTracker.SortedKeys() {
		amount, ok := balances[key]
		if !ok {
			continue
		}
		snap.Balances = append(snap.Balances, BalanceEntry{
			Scope:   key.Scope,
			Entity:  uuid.UUID(key.EntityID),
			SubType: key.SubType,
			Asset:   key.AssetID,
			Amount:  amount.Dec(),
		})
	}
	for _, asset := range []ledger.AssetID{ledger.AssetCollateral, ledger.AssetStable, ledger.AssetReward} {
		snap.Supply = append(snap.Supply, SupplyEntry{
			Asset:  asset,
			Amount: c.balanceTracker.GetSupply(asset).Dec(),
		})
	}
	return snap
}

// RestoreFromSnapshot replaces the core state with a snapshot and checks
// that the restored ledger backs the restored protocol state.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.System == nil {
		return fmt.Errorf("snapshot at %d has no system state", snap.Sequence)
	}
	hash, err := snap.StateHashBytes()
	if err != nil {
		return err
	}
	sys, err := protocol.RestoreSystem(snap.System)
	if err != nil {
		return fmt.Errorf("restore system: %w", err)
	}
	p := sys.Params
	if p.CollateralSymbol != c.system.Params.CollateralSymbol ||
		p.StableSymbol != c.system.Params.StableSymbol ||
		p.RewardSymbol != c.system.Params.RewardSymbol {
		return protocol.ErrSymbolChange
	}

	balances := make(map[ledger.AccountKey]*uint256.Int, len(snap.Balances))
	for _, b := range snap.Balances {
		amount, err := parseRaw(b.Amount)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		balances[ledger.AccountKey{Scope: b.Scope, EntityID: b.Entity, SubType: b.SubType, AssetID: b.Asset}] = amount
	}
	supply := make(map[ledger.AssetID]*uint256.Int, len(snap.Supply))
	for _, s := range snap.Supply {
		amount, err := parseRaw(s.Amount)
		if err != nil {
			return fmt.Errorf("supply: %w", err)
		}
		supply[s.Asset] = amount
	}

	tracker := ledger.NewBalanceTracker()
	tracker.Restore(balances, supply)
	validator := ledger.NewInvariantValidator(tracker)
	if err := validator.ValidateSupplyConservation(); err != nil {
		return fmt.Errorf("restored ledger: %w", err)
	}
	for key, expected := range sys.PoolBalances() {
		if err := validator.ValidatePoolBalance(key, expected); err != nil {
			return fmt.Errorf("restored ledger: %w", err)
		}
	}

	c.system = sys
	c.balanceTracker = tracker
	c.validator = validator
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(hash)
	c.sequenceValidator = NewSequenceValidator()
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

func parseRaw(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, fpmath.ErrInvalidAmount)
	}
	return v, nil
}
