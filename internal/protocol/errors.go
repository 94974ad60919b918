package protocol

import (
	"errors"
	"fmt"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// Kind classifies a rejected command.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is malformed input.
	KindValidation
	// KindNotFound means the referenced Trove, deposit or stake does not exist.
	KindNotFound
	// KindInvariant means a protocol rule rejects the operation in the current state.
	KindInvariant
	// KindArithmetic is a fixed-point overflow, underflow or division by zero.
	KindArithmetic
	// KindFatal means state may be partially mutated.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvariant:
		return "invariant"
	case KindArithmetic:
		return "arithmetic"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidMaxFee       = errors.New("max fee percentage out of range")
	ErrFeeExceedsMax       = errors.New("fee exceeded provided maximum")
	ErrBelowMinNetDebt     = errors.New("net debt below minimum")
	ErrICRBelowMCR         = errors.New("operation would leave trove with ICR < MCR")
	ErrICRBelowCCR         = errors.New("operation must leave trove with ICR >= CCR")
	ErrTCRBelowCCR         = errors.New("operation would leave system with TCR < CCR")
	ErrTCRBelowMCR         = errors.New("cannot redeem when TCR < MCR")
	ErrRecoveryMode        = errors.New("operation not permitted during recovery mode")
	ErrCollWithdrawalInRM  = errors.New("collateral withdrawal not permitted in recovery mode")
	ErrICRDecreasedInRM    = errors.New("cannot decrease ICR in recovery mode")
	ErrSingularCollChange  = errors.New("cannot withdraw and add collateral")
	ErrZeroAdjustment      = errors.New("no adjustment requested")
	ErrZeroDebtChange      = errors.New("debt increase requires non-zero debt change")
	ErrRepayExceedsDebt    = errors.New("amount repaid must not exceed debt minus gas reserve")
	ErrNothingToLiquidate  = errors.New("nothing to liquidate")
	ErrUnableToRedeem      = errors.New("unable to redeem any amount")
	ErrUnderCollateralized = errors.New("cannot withdraw while there are troves with ICR < MCR")
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrAssetNotBridgeable  = errors.New("stable asset only enters and leaves through troves")
	ErrSymbolChange        = errors.New("asset symbols cannot change at runtime")
	ErrInvalidParams       = errors.New("invalid protocol parameters")
	ErrNoTroveForGain      = errors.New("caller must have an active trove to move collateral gain")
	ErrZeroAmount          = state.ErrZeroAmount
	ErrTroveExists         = state.ErrTroveExists
	ErrTroveNotActive      = state.ErrTroveNotActive
	ErrOnlyOneTrove        = state.ErrOnlyOneTrove
	ErrNoDeposit           = state.ErrNoDeposit
	ErrNoStake             = state.ErrNoStake
	ErrNoCollGain          = state.ErrNoCollGain
	ErrNoSurplus           = state.ErrNoSurplus
	ErrPriceUnavailable    = state.ErrPriceUnavailable
	ErrFeeExceedsDrawn     = state.ErrFeeExceedsDrawn
	ErrZeroBaseRate        = state.ErrZeroBaseRate
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)

var kindTable = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{
		ErrInvalidMaxFee, ErrSingularCollChange, ErrZeroAdjustment, ErrZeroDebtChange,
		ErrZeroAmount, ErrUnknownAsset, ErrAssetNotBridgeable, ErrSymbolChange, ErrInvalidParams,
		fpmath.ErrInvalidAmount,
	}},
	{KindNotFound, []error{
		ErrTroveNotActive, ErrTroveNotFound, ErrNoDeposit, ErrNoStake, ErrNoSurplus, ErrNoTroveForGain,
	}},
	{KindInvariant, []error{
		ErrFeeExceedsMax, ErrBelowMinNetDebt, ErrICRBelowMCR, ErrICRBelowCCR, ErrTCRBelowCCR,
		ErrTCRBelowMCR, ErrRecoveryMode, ErrCollWithdrawalInRM, ErrICRDecreasedInRM,
		ErrRepayExceedsDebt, ErrNothingToLiquidate, ErrUnableToRedeem, ErrUnderCollateralized,
		ErrTroveExists, ErrOnlyOneTrove, ErrNoCollGain, ErrPriceUnavailable, ErrFeeExceedsDrawn,
		ErrInsufficientBalance, ErrZeroBaseRate, state.ErrInvalidTransition, state.ErrOffsetExceedsPool,
	}},
	{KindArithmetic, []error{
		fpmath.ErrOverflow, fpmath.ErrUnderflow, fpmath.ErrDivisionByZero,
	}},
}

// FatalError marks a failure after the operation started mutating state.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: state mutation failed: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Op: op, Err: err}
}

// KindOf classifies an error returned by a System operation.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return KindFatal
	}
	for _, entry := range kindTable {
		for _, target := range entry.errs {
			if errors.Is(err, target) {
				return entry.kind
			}
		}
	}
	return KindUnknown
}
