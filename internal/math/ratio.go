package math

import (
	"github.com/holiman/uint256"
)

// nicrPrecision scales the nominal collateral ratio so that it stays
// meaningful for small collateral amounts.
var nicrPrecision = new(uint256.Int).Mul(uint256.NewInt(100), wad) // 1e20

// ComputeCR returns coll * price / debt. A position without debt has the
// maximum ratio.
func ComputeCR(coll, debt, price *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxValue(), nil
	}
	return MulDiv(coll, price, debt, RoundDown)
}

// ComputeNominalCR returns coll * 1e20 / debt, the price-independent ratio
// used to order positions.
func ComputeNominalCR(coll, debt *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxValue(), nil
	}
	return MulDiv(coll, nicrPrecision, debt, RoundDown)
}
