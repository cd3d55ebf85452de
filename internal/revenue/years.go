package revenue

import (
	"fmt"
	"strconv"
)

// Default bounds used when no year range is configured.
const (
	DefaultFirstYear = 2016
	DefaultLastYear  = 2023
)

// YearRange is a contiguous, inclusive span of calendar years.
type YearRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// DefaultYearRange returns 2016–2023.
func DefaultYearRange() YearRange {
	return YearRange{First: DefaultFirstYear, Last: DefaultLastYear}
}

// Validate rejects empty, inverted or implausible ranges.
func (r YearRange) Validate() error {
	if r.First <= 0 || r.Last <= 0 {
		return fmt.Errorf("%w: years must be positive (got %d-%d)", ErrInvalidYearRange, r.First, r.Last)
	}
	if r.Last < r.First {
		return fmt.Errorf("%w: %d is after %d", ErrInvalidYearRange, r.First, r.Last)
	}
	if r.Last-r.First >= 100 {
		return fmt.Errorf("%w: span of %d years is too wide", ErrInvalidYearRange, r.Len())
	}
	return nil
}

// Len is the number of years in the range.
func (r YearRange) Len() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// Contains reports whether year lies inside the range.
func (r YearRange) Contains(year int) bool {
	return year >= r.First && year <= r.Last
}

// Years lists every year in ascending order.
func (r YearRange) Years() []int {
	years := make([]int, 0, r.Len())
	for y := r.First; y <= r.Last; y++ {
		years = append(years, y)
	}
	return years
}

// Labels returns the column labels ("2016", "2017", ...).
func (r YearRange) Labels() []string {
	labels := make([]string, 0, r.Len())
	for y := r.First; y <= r.Last; y++ {
		labels = append(labels, strconv.Itoa(y))
	}
	return labels
}

// String renders the range as "2016-2023".
func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}
