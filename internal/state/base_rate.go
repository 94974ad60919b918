package state

import (
	"errors"

	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
)

const microsPerMinute = 60 * 1_000_000

// ErrFeeExceedsDrawn is returned when a redemption fee would eat the whole
// collateral drawn.
var ErrFeeExceedsDrawn = errors.New("fee would eat up all returned collateral")

// BaseRate is the shared fee driver for borrowing and redemption. It rises
// with redemptions and decays towards zero by MinuteDecayFactor per minute.
// Times are versioned command timestamps in microseconds.
type BaseRate struct {
	Rate            *uint256.Int
	LastFeeOpTimeUs int64
}

func NewBaseRate() *BaseRate {
	return &BaseRate{Rate: new(uint256.Int)}
}

// Clone returns a deep copy.
func (b *BaseRate) Clone() *BaseRate {
	return &BaseRate{Rate: b.Rate.Clone(), LastFeeOpTimeUs: b.LastFeeOpTimeUs}
}

func (b *BaseRate) minutesPassed(nowUs int64) uint64 {
	if nowUs <= b.LastFeeOpTimeUs {
		return 0
	}
	return uint64((nowUs - b.LastFeeOpTimeUs) / microsPerMinute)
}

// Decayed returns the base rate decayed to nowUs.
func (b *BaseRate) Decayed(p *Params, nowUs int64) (*uint256.Int, error) {
	factor, err := fpmath.DecPow(p.MinuteDecayFactor, b.minutesPassed(nowUs))
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(b.Rate, factor, fpmath.One(), fpmath.RoundDown)
}

// nextFeeOpTime only advances once a full minute has passed, so frequent
// operations cannot stall the decay.
func (b *BaseRate) nextFeeOpTime(nowUs int64) int64 {
	if nowUs-b.LastFeeOpTimeUs >= microsPerMinute {
		return nowUs
	}
	return b.LastFeeOpTimeUs
}

// BorrowingQuote is a computed but not yet committed borrowing fee.
type BorrowingQuote struct {
	DecayedRate *uint256.Int
	Fee         *uint256.Int
	nowUs       int64
}

// QuoteBorrowing decays the base rate and prices a debt increase at
// min(floor + baseRate, maxBorrowingFee).
func (b *BaseRate) QuoteBorrowing(p *Params, nowUs int64, debt *uint256.Int) (BorrowingQuote, error) {
	decayed, err := b.Decayed(p, nowUs)
	if err != nil {
		return BorrowingQuote{}, err
	}
	rate, err := fpmath.Add(p.BorrowingFeeFloor, decayed)
	if err != nil {
		return BorrowingQuote{}, err
	}
	rate = fpmath.Min(rate, p.MaxBorrowingFee)
	fee, err := fpmath.MulDiv(rate, debt, fpmath.One(), fpmath.RoundDown)
	if err != nil {
		return BorrowingQuote{}, err
	}
	return BorrowingQuote{DecayedRate: decayed, Fee: fee, nowUs: nowUs}, nil
}

// CommitBorrowing stores the decayed rate from a quote.
func (b *BaseRate) CommitBorrowing(q BorrowingQuote) {
	b.Rate = q.DecayedRate.Clone()
	b.LastFeeOpTimeUs = b.nextFeeOpTime(q.nowUs)
}

// RedemptionQuote is a computed but not yet committed redemption.
type RedemptionQuote struct {
	NewRate *uint256.Int
	Fee     *uint256.Int
	nowUs   int64
}

// QuoteRedemption raises the decayed base rate by the redeemed fraction of
// total debt divided by beta, capped at 100%, and prices the collateral
// drawn at min(floor + newRate, 100%).
func (b *BaseRate) QuoteRedemption(p *Params, nowUs int64, collDrawn, price, totalDebt *uint256.Int) (RedemptionQuote, error) {
	decayed, err := b.Decayed(p, nowUs)
	if err != nil {
		return RedemptionQuote{}, err
	}
	fraction, err := fpmath.MulDiv(collDrawn, price, totalDebt, fpmath.RoundDown)
	if err != nil {
		return RedemptionQuote{}, err
	}
	fraction.Div(fraction, uint256.NewInt(p.Beta))

	newRate, err := fpmath.Add(decayed, fraction)
	if err != nil {
		return RedemptionQuote{}, err
	}
	newRate = fpmath.Min(newRate, fpmath.One()).Clone()
	if newRate.IsZero() {
		return RedemptionQuote{}, ErrZeroBaseRate
	}

	rate, err := fpmath.Add(p.RedemptionFeeFloor, newRate)
	if err != nil {
		return RedemptionQuote{}, err
	}
	rate = fpmath.Min(rate, fpmath.One())
	fee, err := fpmath.MulDiv(rate, collDrawn, fpmath.One(), fpmath.RoundDown)
	if err != nil {
		return RedemptionQuote{}, err
	}
	if !fee.Lt(collDrawn) {
		return RedemptionQuote{}, ErrFeeExceedsDrawn
	}
	return RedemptionQuote{NewRate: newRate, Fee: fee, nowUs: nowUs}, nil
}

// CommitRedemption stores the raised rate from a quote.
func (b *BaseRate) CommitRedemption(q RedemptionQuote) {
	b.Rate = q.NewRate.Clone()
	b.LastFeeOpTimeUs = b.nextFeeOpTime(q.nowUs)
}

// Restore sets the base rate directly (used for snapshot restore)
func (b *BaseRate) Restore(rate *uint256.Int, lastFeeOpTimeUs int64) {
	b.Rate = rate.Clone()
	b.LastFeeOpTimeUs = lastFeeOpTimeUs
}
