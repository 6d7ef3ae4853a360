package allowance

import (
	"github.com/shopspring/decimal"
	"github.com/teich/bank4/ledger"
)

// ratePrecision bounds the scale of intermediate decimals during
// exponentiation; without it the scale doubles with every squaring.
const ratePrecision = 24

var (
	basisPointsPerUnit = decimal.NewFromInt(10000)
	weeksPerYear       = decimal.NewFromInt(WeeksPerYear)
)

// WeeklyRate converts annual basis points to a weekly growth rate
// (2000 bp -> 0.20 / 52).
func WeeklyRate(basisPoints int64) decimal.Decimal {
	return decimal.NewFromInt(basisPoints).
		DivRound(basisPointsPerUnit.Mul(weeksPerYear), ratePrecision)
}

// CompoundInterest returns round(P * (1 + r/52)^weeks - P) in cents. The
// result carries the sign of the principal, so an overdrawn saving balance
// posts a negative delta.
func CompoundInterest(principal ledger.Cents, basisPoints int64, weeks int) ledger.Cents {
	if principal == 0 || basisPoints == 0 || weeks <= 0 {
		return 0
	}

	growth := pow(decimal.NewFromInt(1).Add(WeeklyRate(basisPoints)), weeks)
	p := principal.Decimal()
	return ledger.CentsFromDecimal(p.Mul(growth).Sub(p))
}

// pow raises base to a non-negative integer power by repeated squaring.
func pow(base decimal.Decimal, exp int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base).Truncate(ratePrecision)
		}
		base = base.Mul(base).Truncate(ratePrecision)
		exp >>= 1
	}
	return result
}
