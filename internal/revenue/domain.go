package revenue

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDateRange indicates a record whose end date precedes its start date.
	ErrInvalidDateRange = errors.New("revenue: end date before start date")
	// ErrInvalidYearRange indicates a year range that is empty or inverted.
	ErrInvalidYearRange = errors.New("revenue: invalid year range")
	// ErrMissingAccount marks a detail record without a canonical account name.
	ErrMissingAccount = errors.New("revenue: missing account name")
)

// DetailRecord is a single contract line as delivered by the ingest layer.
type DetailRecord struct {
	Owner         string          `json:"owner"`
	Account       string          `json:"account"`
	ProductLine   string          `json:"product_line"`
	ProductFamily string          `json:"product_family,omitempty"`
	Pod           string          `json:"pod,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
}

// KeyFields implements Keyed.
func (r DetailRecord) KeyFields() (owner, account, productLine string) {
	return r.Owner, r.Account, r.ProductLine
}

// Validate checks the only invariant the engine relies on besides a present account.
func (r DetailRecord) Validate() error {
	if strings.TrimSpace(r.Account) == "" {
		return ErrMissingAccount
	}
	if dayNumber(r.EndDate) < dayNumber(r.StartDate) {
		return ErrInvalidDateRange
	}
	return nil
}

// Row is an aggregated report line. Product level rows carry every attribute;
// account level rows leave ProductFamily and ProductLine empty.
type Row struct {
	Key           Key               `json:"key"`
	Pod           string            `json:"pod"`
	Owner         string            `json:"owner"`
	Account       string            `json:"account"`
	ProductFamily string            `json:"product_family,omitempty"`
	ProductLine   string            `json:"product_line,omitempty"`
	Years         YearRange         `json:"years"`
	Revenue       []decimal.Decimal `json:"revenue"`
}

// KeyFields implements Keyed.
func (r Row) KeyFields() (owner, account, productLine string) {
	return r.Owner, r.Account, r.ProductLine
}

// For returns the revenue booked for year, zero when the year is outside the row range.
func (r Row) For(year int) decimal.Decimal {
	if !r.Years.Contains(year) {
		return decimal.Zero
	}
	idx := year - r.Years.First
	if idx >= len(r.Revenue) {
		return decimal.Zero
	}
	return r.Revenue[idx]
}

// Total sums every year column.
func (r Row) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.Revenue {
		total = total.Add(v)
	}
	return total
}

// Report is the output of a pipeline run.
type Report struct {
	Years    YearRange `json:"years"`
	Products []Row     `json:"products"`
	Accounts []Row     `json:"accounts"`
	Skipped  int       `json:"skipped"`
}
