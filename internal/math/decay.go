package math

import (
	"github.com/holiman/uint256"
)

// MaxDecayMinutes caps the exponent of DecPow at 1000 years of minutes.
// Past this point any decay factor below one has already reached zero.
const MaxDecayMinutes = 525_600_000

// DecPow raises a fixed-point base to an integer power by repeated squaring.
// Each multiplication rounds half up, so the result may drift by a few wei
// from the exact power.
func DecPow(base *uint256.Int, minutes uint64) (*uint256.Int, error) {
	if minutes > MaxDecayMinutes {
		minutes = MaxDecayMinutes
	}
	if minutes == 0 {
		return One(), nil
	}

	x := base.Clone()
	y := One()
	n := minutes

	var err error
	for n > 1 {
		if n%2 == 0 {
			if x, err = DecMul(x, x); err != nil {
				return nil, err
			}
			n /= 2
			continue
		}
		if y, err = DecMul(x, y); err != nil {
			return nil, err
		}
		if x, err = DecMul(x, x); err != nil {
			return nil, err
		}
		n = (n - 1) / 2
	}

	return DecMul(x, y)
}
