package persistence

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
)

type recordingExecer struct {
	query string
	args  []any
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.query = query
	r.args = args
	return nil, nil
}

func mustOutput(t *testing.T) core.CoreOutput {
	t.Helper()
	owner := uuid.MustParse("6f1c1d7e-2f4b-4d55-9a0e-3b7f3c1a9e01")
	amount, err := uint256.FromDecimal("30000000000000000000")
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	env := &event.EventEnvelope{
		Sequence:       7,
		IdempotencyKey: "cmd-7",
		EventType:      event.EventTypeTroveOpened,
		Partition:      event.AccountPartition(owner),
		Timestamp:      time.UnixMicro(1_700_000_000_000_000).UTC(),
		SourceSequence: 3,
		Payload:        []byte(`{"command_id":"cmd-7"}`),
		StateHash:      [32]byte{1, 2, 3},
		PrevHash:       [32]byte{9},
	}
	batchID := uuid.New()
	return core.CoreOutput{
		Envelope: env,
		Batch: &ledger.Batch{
			BatchID:  batchID,
			EventRef: "cmd-7",
			Sequence: 7,
			Journals: []ledger.Journal{{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				EventRef:      "cmd-7",
				Sequence:      7,
				DebitAccount:  ledger.PoolKey(ledger.SubTypeActivePool, ledger.AssetCollateral),
				CreditAccount: ledger.WalletKey(owner, ledger.AssetCollateral),
				AssetID:       ledger.AssetCollateral,
				Amount:        amount,
				JournalType:   ledger.JournalTypeCollateralLock,
				Timestamp:     1_700_000_000_000_000,
			}},
		},
	}
}

func TestNewRecord(t *testing.T) {
	out := mustOutput(t)
	rec := NewRecord(out)

	if rec.Event.Sequence != 7 || rec.Event.EventType != "TroveOpened" {
		t.Fatalf("event row = %+v", rec.Event)
	}
	if rec.Event.Partition != out.Envelope.Partition {
		t.Errorf("partition = %q", rec.Event.Partition)
	}
	if rec.Event.StateHash[0] != 1 || len(rec.Event.StateHash) != 32 {
		t.Errorf("state hash = %x", rec.Event.StateHash)
	}
	if len(rec.Journals) != 1 {
		t.Fatalf("journals = %d, want 1", len(rec.Journals))
	}
	j := rec.Journals[0]
	if j.Amount != "30000000000000000000" {
		t.Errorf("amount = %s", j.Amount)
	}
	if j.DebitAccount != "system:active_pool:ETH" {
		t.Errorf("debit = %s", j.DebitAccount)
	}
	if !strings.HasPrefix(j.CreditAccount, "user:6f1c1d7e-") {
		t.Errorf("credit = %s", j.CreditAccount)
	}

	// The row must not alias the envelope hash
	out.Envelope.StateHash[0] = 0xff
	if rec.Event.StateHash[0] != 1 {
		t.Error("state hash aliases envelope")
	}
}

func TestNewRecord_EmptyBatch(t *testing.T) {
	out := mustOutput(t)
	out.Batch = nil
	out.Envelope.Payload = nil

	rec := NewRecord(out)
	if len(rec.Journals) != 0 {
		t.Errorf("journals = %d", len(rec.Journals))
	}
	if string(rec.Event.Payload) != "{}" {
		t.Errorf("payload = %s", rec.Event.Payload)
	}
}

func TestWriteEventBatch_MultiRowInsert(t *testing.T) {
	rec := NewRecord(mustOutput(t))
	second := rec.Event
	second.Sequence = 8

	ex := &recordingExecer{}
	w := NewEventLogWriter(nil)
	if err := w.WriteEventBatch(context.Background(), ex, []EventRow{rec.Event, second}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(ex.query, "($1, $2, $3, $4, $5, $6, $7, $8, $9), ($10,") {
		t.Errorf("query = %s", ex.query)
	}
	if len(ex.args) != 18 {
		t.Fatalf("args = %d, want 18", len(ex.args))
	}
	if ex.args[9] != int64(8) {
		t.Errorf("second sequence arg = %v", ex.args[9])
	}

	ex = &recordingExecer{}
	if err := w.WriteJournalBatch(context.Background(), ex, nil); err != nil {
		t.Fatalf("empty journals: %v", err)
	}
	if ex.query != "" {
		t.Error("empty batch must not hit the database")
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(10, 3); got != "($11, $12, $13)" {
		t.Errorf("placeholders = %s", got)
	}
}
