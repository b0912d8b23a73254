package model

import (
	"fmt"
	"math"
	"strconv"
)

// PointsAmount is a non-negative number of loyalty points.
type PointsAmount struct {
	value int64
}

var ZeroPoints = PointsAmount{}

func NewPointsAmount(value int64) (PointsAmount, error) {
	if value < 0 {
		return PointsAmount{}, fmt.Errorf("%w: %d", ErrNegativeAmount, value)
	}
	return PointsAmount{value: value}, nil
}

// pointsOf builds an amount from a value already proven non-negative.
func pointsOf(value int64) PointsAmount {
	if value < 0 {
		panic(InvariantViolation{Message: fmt.Sprintf("negative points amount %d", value)})
	}
	return PointsAmount{value: value}
}

func (a PointsAmount) Value() int64 {
	return a.value
}

func (a PointsAmount) IsZero() bool {
	return a.value == 0
}

// Add panics when the sum leaves int64.
func (a PointsAmount) Add(other PointsAmount) PointsAmount {
	if other.value > math.MaxInt64-a.value {
		panic(InvariantViolation{Message: fmt.Sprintf("points overflow adding %d to %d", other.value, a.value)})
	}
	return pointsOf(a.value + other.value)
}

// Subtract is the checked path: insufficiency is returned, never clamped.
func (a PointsAmount) Subtract(other PointsAmount) (PointsAmount, error) {
	if other.value > a.value {
		return PointsAmount{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPoints, a.value, other.value)
	}
	return PointsAmount{value: a.value - other.value}, nil
}

// subtractUnchecked panics when the caller's proof of non-negativity is wrong.
func (a PointsAmount) subtractUnchecked(other PointsAmount) PointsAmount {
	return pointsOf(a.value - other.value)
}

func (a PointsAmount) LessThan(other PointsAmount) bool {
	return a.value < other.value
}

func (a PointsAmount) Equal(other PointsAmount) bool {
	return a.value == other.value
}

func (a PointsAmount) String() string {
	return strconv.FormatInt(a.value, 10)
}

func (a PointsAmount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(a.value, 10)), nil
}
