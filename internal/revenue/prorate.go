package revenue

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const secondsPerDay = 24 * 60 * 60

// Prorate returns the share of amount that falls into the calendar year, based on
// the number of days of the inclusive [start, end] interval inside that year.
//
// The share is computed as amount*overlapDays/totalDays and rounded once to cents,
// half away from zero. Dates are compared by calendar day; the clock time and
// location of start and end are ignored.
func Prorate(amount decimal.Decimal, start, end time.Time, year int) (decimal.Decimal, error) {
	first, last := dayNumber(start), dayNumber(end)
	if last < first {
		return decimal.Zero, fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	yearStart := dayNumber(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
	yearEnd := dayNumber(time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC))
	if first > yearEnd || last < yearStart {
		return decimal.Zero, nil
	}
	lo := max(first, yearStart)
	hi := min(last, yearEnd)
	overlap := hi - lo + 1
	total := last - first + 1
	if overlap == total {
		return amount.Round(2), nil
	}
	// DivRound rounds the exact quotient, so no intermediate daily rate is truncated.
	return amount.Mul(decimal.NewFromInt(overlap)).DivRound(decimal.NewFromInt(total), 2), nil
}

// dayNumber maps a calendar date to a day count since the Unix epoch.
func dayNumber(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}

// DaysInclusive counts calendar days in [start, end]; it is zero or negative for
// inverted ranges.
func DaysInclusive(start, end time.Time) int64 {
	return dayNumber(end) - dayNumber(start) + 1
}
