package event

import (
	"github.com/holiman/uint256"

	"TroveLedger/internal/state"
)

// PriceUpdated carries an oracle price. Price sequences may skip values;
// stale ones are ignored.
type PriceUpdated struct {
	Header
	Price         *uint256.Int
	PriceSequence int64
}

func (p *PriceUpdated) EventType() EventType {
	return EventTypePriceUpdated
}

func (p *PriceUpdated) Partition() string {
	return PartitionPrice
}

func (p *PriceUpdated) SourceSequence() int64 {
	return p.PriceSequence
}

// ParamsUpdated replaces the protocol parameters from the admin channel.
type ParamsUpdated struct {
	Header
	Params *state.Params
}

func (p *ParamsUpdated) EventType() EventType {
	return EventTypeParamsUpdated
}

func (p *ParamsUpdated) Partition() string {
	return PartitionAdmin
}
