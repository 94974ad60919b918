package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// batchNamespace seeds the deterministic batch and journal IDs, so a replayed
// command produces byte-identical journals.
var batchNamespace = uuid.MustParse("6f1c2a9e-4d43-5b8e-9a51-0c7d3e2f8b14")

// Recorder stages the token movements of one command. It implements the
// protocol's mint/burn/transfer callbacks against a view of the tracker, so a
// later movement in the same command sees the earlier ones. Nothing reaches
// the tracker until the caller applies the finished batch.
type Recorder struct {
	view     *BalanceView
	batch    *Batch
	sequence int64
}

// NewRecorder opens a recorder for the command identified by eventRef.
func NewRecorder(tracker *BalanceTracker, eventRef string, sequence int64, timestamp int64) *Recorder {
	return &Recorder{
		view: tracker.NewView(),
		batch: &Batch{
			BatchID:   uuid.NewSHA1(batchNamespace, []byte(eventRef)),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
		sequence: sequence,
	}
}

// Mint creates supply and credits it to the target account.
func (r *Recorder) Mint(to AccountKey, amount *uint256.Int, kind JournalType) error {
	return r.post(to, SupplyKey(to.AssetID), amount, kind)
}

// Burn destroys supply held by the source account.
func (r *Recorder) Burn(from AccountKey, amount *uint256.Int, kind JournalType) error {
	return r.post(SupplyKey(from.AssetID), from, amount, kind)
}

// Transfer moves an amount between two internal accounts of the same asset.
func (r *Recorder) Transfer(from, to AccountKey, amount *uint256.Int, kind JournalType) error {
	if from.AssetID != to.AssetID {
		return fmt.Errorf("transfer between assets %d and %d", from.AssetID, to.AssetID)
	}
	return r.post(to, from, amount, kind)
}

// Balance returns the balance of an account including staged movements.
func (r *Recorder) Balance(key AccountKey) *uint256.Int {
	return r.view.Balance(key)
}

// Batch returns the staged journals.
func (r *Recorder) Batch() *Batch {
	return r.batch
}

// post stages debit += amount, credit -= amount. A zero amount is skipped so
// callers can pass computed gains without checking them first.
func (r *Recorder) post(debit, credit AccountKey, amount *uint256.Int, kind JournalType) error {
	if amount == nil || amount.IsZero() {
		return nil
	}

	idx := len(r.batch.Journals)
	j := Journal{
		JournalID:     uuid.NewSHA1(r.batch.BatchID, []byte(strconv.Itoa(idx))),
		BatchID:       r.batch.BatchID,
		EventRef:      r.batch.EventRef,
		Sequence:      r.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount.Clone(),
		JournalType:   kind,
		Timestamp:     r.batch.Timestamp,
	}

	if err := r.view.Post(j); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	r.batch.Journals = append(r.batch.Journals, j)
	return nil
}
