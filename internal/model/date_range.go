package model

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	start time.Time
	end   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	s := NormalizeDate(start)
	e := NormalizeDate(end)
	if s.After(e) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, s.Format(DateLayout), e.Format(DateLayout))
	}
	return DateRange{start: s, end: e}, nil
}

func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return NewDateRange(s, e)
}

// NormalizeDate keeps the calendar day of t in its own location and drops the
// time of day.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrInvalidDateRange, raw)
	}
	return t, nil
}

func (r DateRange) Start() time.Time { return r.start }
func (r DateRange) End() time.Time   { return r.end }

func (r DateRange) Contains(date time.Time) bool {
	d := NormalizeDate(date)
	return !d.Before(r.start) && !d.After(r.end)
}

// Overlaps is the strict interval relation. Ranges that only touch at a
// boundary do not overlap.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.start.Before(other.end) && other.start.Before(r.end)
}

// SharesDay reports whether at least one calendar day lies in both ranges.
// This is the relation that matters for "one active rule per day".
func (r DateRange) SharesDay(other DateRange) bool {
	return !r.start.After(other.end) && !other.start.After(r.end)
}

func (r DateRange) Equal(other DateRange) bool {
	return r.start.Equal(other.start) && r.end.Equal(other.end)
}

func (r DateRange) String() string {
	return r.start.Format(DateLayout) + ".." + r.end.Format(DateLayout)
}
