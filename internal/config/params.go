package config

import (
	"bytes"
	"io"
	"os"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// paramsFile mirrors the YAML layout. Decimal values are kept as strings so
// that "1.1" is never routed through a float.
type paramsFile struct {
	MCR                string  `yaml:"mcr"`
	CCR                string  `yaml:"ccr"`
	GasCompensation    string  `yaml:"gas_compensation"`
	MinNetDebt         string  `yaml:"min_net_debt"`
	PercentDivisor     *uint64 `yaml:"percent_divisor"`
	BorrowingFeeFloor  string  `yaml:"borrowing_fee_floor"`
	MaxBorrowingFee    string  `yaml:"max_borrowing_fee"`
	RedemptionFeeFloor string  `yaml:"redemption_fee_floor"`
	Beta               *uint64 `yaml:"beta"`
	MinuteDecayFactor  string  `yaml:"minute_decay_factor"`
	Symbols            struct {
		Collateral string `yaml:"collateral"`
		Stable     string `yaml:"stable"`
		Reward     string `yaml:"reward"`
	} `yaml:"symbols"`
}

// LoadParams reads protocol parameters from a YAML file. An empty path
// returns the defaults.
func LoadParams(path string) (*state.Params, error) {
	if path == "" {
		return state.DefaultParams(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open params file")
	}
	defer f.Close()

	p, err := DecodeParams(f)
	if err != nil {
		return nil, errors.Wrapf(err, "params file %s", path)
	}
	return p, nil
}

// DecodeParams overlays the values present in r onto the default parameters
// and validates the result. Unknown keys are rejected.
func DecodeParams(r io.Reader) (*state.Params, error) {
	var raw paramsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode yaml")
	}

	p := state.DefaultParams()
	for _, f := range []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"mcr", raw.MCR, &p.MCR},
		{"ccr", raw.CCR, &p.CCR},
		{"gas_compensation", raw.GasCompensation, &p.GasCompensation},
		{"min_net_debt", raw.MinNetDebt, &p.MinNetDebt},
		{"borrowing_fee_floor", raw.BorrowingFeeFloor, &p.BorrowingFeeFloor},
		{"max_borrowing_fee", raw.MaxBorrowingFee, &p.MaxBorrowingFee},
		{"redemption_fee_floor", raw.RedemptionFeeFloor, &p.RedemptionFeeFloor},
		{"minute_decay_factor", raw.MinuteDecayFactor, &p.MinuteDecayFactor},
	} {
		if f.raw == "" {
			continue
		}
		v, err := parseWad(f.raw)
		if err != nil {
			return nil, errors.Wrapf(err, "incorrect '%s' param", f.name)
		}
		*f.dst = v
	}

	if raw.PercentDivisor != nil {
		p.PercentDivisor = *raw.PercentDivisor
	}
	if raw.Beta != nil {
		p.Beta = *raw.Beta
	}
	if raw.Symbols.Collateral != "" {
		p.CollateralSymbol = raw.Symbols.Collateral
	}
	if raw.Symbols.Stable != "" {
		p.StableSymbol = raw.Symbols.Stable
	}
	if raw.Symbols.Reward != "" {
		p.RewardSymbol = raw.Symbols.Reward
	}

	if err := state.ValidateParams(p); err != nil {
		return nil, errors.Wrap(err, "validate params")
	}
	return p, nil
}

// ParseParams is DecodeParams over an in-memory document.
func ParseParams(data []byte) (*state.Params, error) {
	return DecodeParams(bytes.NewReader(data))
}

func parseWad(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse decimal %q", s)
	}
	return fpmath.FromDecimal(d)
}
