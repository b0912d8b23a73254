package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	MinConversionRate = 1
	MaxConversionRate = 1000
)

// ConversionRate means "N currency units earn 1 point".
type ConversionRate struct {
	value int
}

func NewConversionRate(value int) (ConversionRate, error) {
	if value < MinConversionRate || value > MaxConversionRate {
		return ConversionRate{}, fmt.Errorf("%w: got %d", ErrInvalidConversionRate, value)
	}
	return ConversionRate{value: value}, nil
}

func (r ConversionRate) Value() int {
	return r.value
}

// CalculatePoints floors amount/rate. Negative amounts earn nothing.
func (r ConversionRate) CalculatePoints(amount decimal.Decimal) PointsAmount {
	if r.value <= 0 {
		panic(InvariantViolation{Message: "conversion rate used before construction"})
	}
	if !amount.IsPositive() {
		return ZeroPoints
	}
	// QuoRem at precision 0 is exact; Div rounds to DivisionPrecision first.
	quotient, _ := amount.QuoRem(decimal.NewFromInt(int64(r.value)), 0)
	return pointsOf(quotient.IntPart())
}
