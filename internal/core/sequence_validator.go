package core

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
	ErrStalePrice  = errors.New("stale price sequence")
)

// SequenceValidator validates source sequences per partition. A sequence is
// only consumed once its command has been accepted, so the event log alone
// reproduces the validator state on replay.
// Not thread-safe; the core serializes access.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
	}
}

// ValidateSequence checks that sourceSequence is the next one expected in
// the partition. A lower sequence is fine for a known duplicate.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// ValidatePriceSequence accepts any price sequence above the last accepted
// one. skipped reports a tolerated gap after the first accepted price.
func (sv *SequenceValidator) ValidatePriceSequence(partition string, priceSequence int64) (skipped bool, err error) {
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		return false, fmt.Errorf("%w: got %d, last accepted %d", ErrStalePrice, priceSequence, expected-1)
	}
	return expected > 0 && priceSequence > expected, nil
}

// Commit consumes sourceSequence after its command was applied.
func (sv *SequenceValidator) Commit(partition string, sourceSequence int64) {
	if next := sourceSequence + 1; next > sv.expectedNextSeq[partition] {
		sv.expectedNextSeq[partition] = next
	}
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// GetAllPartitions copies the validator state for a snapshot.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// RestorePartition initializes expected sequence during recovery.
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}
