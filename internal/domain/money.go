package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMinorUnitDigits is the number of fractional digits of the
	// accounting currency (cents).
	DefaultMinorUnitDigits = 2

	// MaxAmount bounds a single expense or settlement in minor units so that
	// percentage arithmetic (amount * basis points) cannot overflow int64.
	MaxAmount int64 = 100_000_000_000_000

	// FullPercentage is 100.00% expressed in basis points.
	FullPercentage int64 = 10_000
)

// ToMinorUnits converts a decimal amount to integer minor units. Amounts with
// more fractional digits than the currency allows are rejected, never rounded.
func ToMinorUnits(amount decimal.Decimal, digits int32) (int64, error) {
	scaled := amount.Shift(digits)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrAmountPrecision, amount.String())
	}

	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountTooLarge, amount.String())
	}

	return scaled.IntPart(), nil
}

// FromMinorUnits converts minor units back to a decimal amount.
func FromMinorUnits(units int64, digits int32) decimal.Decimal {
	return decimal.New(units, -digits)
}

// PercentageToBasisPoints converts a percentage such as 33.33 into basis
// points (3333). At most two fractional digits are accepted.
func PercentageToBasisPoints(p decimal.Decimal) (int64, error) {
	if p.IsNegative() {
		return 0, splitError("percentage must not be negative", 0, 0)
	}

	bp, err := ToMinorUnits(p, 2)
	if err != nil {
		return 0, splitError("percentage supports at most two decimals", 0, 0)
	}

	if bp > FullPercentage {
		return 0, splitError("percentage exceeds 100", FullPercentage, bp)
	}

	return bp, nil
}

// BasisPointsToPercentage is the inverse of PercentageToBasisPoints.
func BasisPointsToPercentage(bp int64) decimal.Decimal {
	return decimal.New(bp, -2)
}
