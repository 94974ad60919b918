package state

import (
	"github.com/holiman/uint256"
)

// Oracle holds the latest collateral price in stable units
type Oracle struct {
	Price         *uint256.Int
	PriceSequence int64
	Timestamp     int64
}

func NewOracle() *Oracle {
	return &Oracle{Price: new(uint256.Int)}
}

// CurrentPrice returns the last accepted price.
func (o *Oracle) CurrentPrice() (*uint256.Int, error) {
	if o.Price.IsZero() {
		return nil, ErrPriceUnavailable
	}
	return o.Price.Clone(), nil
}

// Update accepts a price with a newer sequence. Stale or duplicate
// sequences are ignored and reported as not applied; gaps are accepted.
func (o *Oracle) Update(price *uint256.Int, sequence int64, timestamp int64) bool {
	if !o.Price.IsZero() && sequence <= o.PriceSequence {
		return false
	}
	o.Price = price.Clone()
	o.PriceSequence = sequence
	o.Timestamp = timestamp
	return true
}

// Clone returns a deep copy.
func (o *Oracle) Clone() *Oracle {
	return &Oracle{Price: o.Price.Clone(), PriceSequence: o.PriceSequence, Timestamp: o.Timestamp}
}
