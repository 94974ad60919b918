package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceUpdated
	EventTypeAssetDeposited
	EventTypeAssetWithdrawn
	EventTypeAssetTransferred
	EventTypeTroveOpened
	EventTypeTroveAdjusted
	EventTypeTroveClosed
	EventTypeTroveLiquidated
	EventTypeTrovesLiquidated
	EventTypeCollateralRedeemed
	EventTypeCollateralClaimed
	EventTypeStabilityDeposited
	EventTypeStabilityWithdrawn
	EventTypeStabilityGainMoved
	EventTypeRewardsIssued
	EventTypeFeeStaked
	EventTypeFeeUnstaked
	EventTypeParamsUpdated
)

var eventTypeNames = map[EventType]string{
	EventTypePriceUpdated:       "PriceUpdated",
	EventTypeAssetDeposited:     "AssetDeposited",
	EventTypeAssetWithdrawn:     "AssetWithdrawn",
	EventTypeAssetTransferred:   "AssetTransferred",
	EventTypeTroveOpened:        "TroveOpened",
	EventTypeTroveAdjusted:      "TroveAdjusted",
	EventTypeTroveClosed:        "TroveClosed",
	EventTypeTroveLiquidated:    "TroveLiquidated",
	EventTypeTrovesLiquidated:   "TrovesLiquidated",
	EventTypeCollateralRedeemed: "CollateralRedeemed",
	EventTypeCollateralClaimed:  "CollateralClaimed",
	EventTypeStabilityDeposited: "StabilityDeposited",
	EventTypeStabilityWithdrawn: "StabilityWithdrawn",
	EventTypeStabilityGainMoved: "StabilityGainMoved",
	EventTypeRewardsIssued:      "RewardsIssued",
	EventTypeFeeStaked:          "FeeStaked",
	EventTypeFeeUnstaked:        "FeeUnstaked",
	EventTypeParamsUpdated:      "ParamsUpdated",
}

var eventTypesByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, name := range eventTypeNames {
		m[name] = t
	}
	return m
}()

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType resolves a wire name such as "TroveOpened".
func ParseEventType(name string) (EventType, error) {
	if t, ok := eventTypesByName[name]; ok {
		return t, nil
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %q", name)
}

// AllEventTypes lists every known type in discriminator order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for t := EventTypePriceUpdated; t <= EventTypeParamsUpdated; t++ {
		out = append(out, t)
	}
	return out
}

// Partition names used for source sequence validation
const (
	PartitionPrice    = "price"
	PartitionIssuance = "issuance"
	PartitionAdmin    = "admin"
)

// AccountPartition is the per-user ordering domain.
func AccountPartition(user uuid.UUID) string {
	return "account:" + user.String()
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Source ordering domain, e.g. "account:<uuid>" or "price"
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Wire JSON of the command, re-parsed on replay
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Partition returns the ordering domain of SourceSequence
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// TimestampUs is the versioned command time in epoch microseconds
	TimestampUs() int64
}

// Header carries the fields every command shares.
type Header struct {
	CommandID uuid.UUID
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

func (h *Header) IdempotencyKey() string {
	return h.CommandID.String()
}

func (h *Header) SourceSequence() int64 {
	return h.Sequence
}

func (h *Header) TimestampUs() int64 {
	return h.Timestamp
}
