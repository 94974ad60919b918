package state

import (
	"fmt"

	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
)

// Params holds the protocol constants. Ratios and fees are 18-decimal
// fractions (1e18 = 100%), amounts are wads of the stable asset.
type Params struct {
	MCR                *uint256.Int // Minimum collateral ratio of a single Trove
	CCR                *uint256.Int // Critical system collateral ratio (recovery mode below)
	GasCompensation    *uint256.Int // Stable reserve held per Trove for its liquidator
	MinNetDebt         *uint256.Int // Minimum debt excluding the gas reserve
	PercentDivisor     uint64       // Collateral gas compensation is coll / PercentDivisor
	BorrowingFeeFloor  *uint256.Int
	MaxBorrowingFee    *uint256.Int
	RedemptionFeeFloor *uint256.Int
	Beta               uint64       // Redemption base rate divisor
	MinuteDecayFactor  *uint256.Int // Per-minute base rate decay
	CollateralSymbol   string
	StableSymbol       string
	RewardSymbol       string
	EffectiveSeq       int64 // Sequence at which params take effect
}

// DefaultParams returns the production defaults.
func DefaultParams() *Params {
	return &Params{
		MCR:                fpmath.MustParseWad("1.1"),
		CCR:                fpmath.MustParseWad("1.5"),
		GasCompensation:    fpmath.Units(200),
		MinNetDebt:         fpmath.Units(1800),
		PercentDivisor:     200,
		BorrowingFeeFloor:  fpmath.MustParseWad("0.005"),
		MaxBorrowingFee:    fpmath.MustParseWad("0.05"),
		RedemptionFeeFloor: fpmath.MustParseWad("0.005"),
		Beta:               2,
		MinuteDecayFactor:  fpmath.MustParseWad("0.999037758833783"),
		CollateralSymbol:   "ETH",
		StableSymbol:       "LAI",
		RewardSymbol:       "LAO",
	}
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	c := *p
	c.MCR = p.MCR.Clone()
	c.CCR = p.CCR.Clone()
	c.GasCompensation = p.GasCompensation.Clone()
	c.MinNetDebt = p.MinNetDebt.Clone()
	c.BorrowingFeeFloor = p.BorrowingFeeFloor.Clone()
	c.MaxBorrowingFee = p.MaxBorrowingFee.Clone()
	c.RedemptionFeeFloor = p.RedemptionFeeFloor.Clone()
	c.MinuteDecayFactor = p.MinuteDecayFactor.Clone()
	return &c
}

// CollGasCompensation returns the share of a Trove's collateral paid to the
// liquidator.
func (p *Params) CollGasCompensation(coll *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(coll, uint256.NewInt(p.PercentDivisor))
}

// ValidateParams checks that protocol parameters are within valid ranges:
// 1 < MCR <= CCR, fees are fractions with floor <= max, percent divisor
// and beta are positive, the decay factor is below one.
func ValidateParams(p *Params) error {
	if p == nil {
		return fmt.Errorf("params are nil")
	}
	for name, v := range map[string]*uint256.Int{
		"mcr":                  p.MCR,
		"ccr":                  p.CCR,
		"gas_compensation":     p.GasCompensation,
		"min_net_debt":         p.MinNetDebt,
		"borrowing_fee_floor":  p.BorrowingFeeFloor,
		"max_borrowing_fee":    p.MaxBorrowingFee,
		"redemption_fee_floor": p.RedemptionFeeFloor,
		"minute_decay_factor":  p.MinuteDecayFactor,
	} {
		if v == nil {
			return fmt.Errorf("%s is missing", name)
		}
	}

	one := fpmath.One()
	if !p.MCR.Gt(one) {
		return fmt.Errorf("mcr must be > 1, got %s", fpmath.FormatWad(p.MCR))
	}
	if p.CCR.Lt(p.MCR) {
		return fmt.Errorf("ccr (%s) must be >= mcr (%s)", fpmath.FormatWad(p.CCR), fpmath.FormatWad(p.MCR))
	}
	if p.MinNetDebt.IsZero() {
		return fmt.Errorf("min_net_debt must be > 0")
	}
	if p.PercentDivisor == 0 {
		return fmt.Errorf("percent_divisor must be > 0")
	}
	if p.BorrowingFeeFloor.Gt(p.MaxBorrowingFee) {
		return fmt.Errorf("borrowing_fee_floor (%s) must be <= max_borrowing_fee (%s)",
			fpmath.FormatWad(p.BorrowingFeeFloor), fpmath.FormatWad(p.MaxBorrowingFee))
	}
	if p.MaxBorrowingFee.Gt(one) {
		return fmt.Errorf("max_borrowing_fee must be <= 1, got %s", fpmath.FormatWad(p.MaxBorrowingFee))
	}
	if p.RedemptionFeeFloor.Gt(one) {
		return fmt.Errorf("redemption_fee_floor must be <= 1, got %s", fpmath.FormatWad(p.RedemptionFeeFloor))
	}
	if p.Beta == 0 {
		return fmt.Errorf("beta must be > 0")
	}
	if p.MinuteDecayFactor.IsZero() || !p.MinuteDecayFactor.Lt(one) {
		return fmt.Errorf("minute_decay_factor must be in (0, 1), got %s", fpmath.FormatWad(p.MinuteDecayFactor))
	}
	if p.CollateralSymbol == "" || p.StableSymbol == "" || p.RewardSymbol == "" {
		return fmt.Errorf("asset symbols must be non-empty")
	}
	return nil
}
