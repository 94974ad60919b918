package state

import "errors"

var (
	ErrTroveExists       = errors.New("trove is already active")
	ErrTroveNotActive    = errors.New("trove does not exist or is closed")
	ErrOnlyOneTrove      = errors.New("only one trove in the system")
	ErrInvalidTransition = errors.New("invalid trove status transition")
	ErrNoDeposit         = errors.New("user has no deposit")
	ErrNoStake           = errors.New("user has no stake")
	ErrZeroAmount        = errors.New("amount must be non-zero")
	ErrOffsetExceedsPool = errors.New("offset exceeds stability pool deposits")
	ErrNoSurplus         = errors.New("no collateral available to claim")
	ErrPriceUnavailable  = errors.New("price is not available")
	ErrZeroBaseRate      = errors.New("redemption base rate is zero")
)
