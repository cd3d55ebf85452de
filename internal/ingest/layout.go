package ingest

import "fmt"

// HeaderMarker is the first cell of the CRM export header row.
const HeaderMarker = "Opportunity ID - 18 Digit"

// Layout maps record fields to zero-based CSV column indexes.
type Layout struct {
	StartDate          int
	EndDate            int
	Amount             int
	ProductLine        int
	ProductFamily      int
	UltimateAccount    int
	Owner              int
	Pod                int
	IndividualAccount  int
	AccountNameAccount int
	KnownAs            int
	// Account is the primary account column tried before the fallbacks.
	Account int
	// Header is compared against the first cell to detect header rows.
	Header string
	// DateLayout is the time.Parse layout of the date columns.
	DateLayout string
}

// DefaultLayout matches the "export details" report of the system of record.
func DefaultLayout() Layout {
	return Layout{
		StartDate:          15,
		EndDate:            16,
		Amount:             23,
		ProductLine:        32,
		ProductFamily:      33,
		UltimateAccount:    36,
		Owner:              37,
		Pod:                38,
		IndividualAccount:  39,
		AccountNameAccount: 40,
		KnownAs:            38,
		Account:            36,
		Header:             HeaderMarker,
		DateLayout:         "1/2/2006",
	}
}

func (l Layout) columns() []int {
	return []int{
		l.StartDate, l.EndDate, l.Amount, l.ProductLine, l.ProductFamily,
		l.UltimateAccount, l.Owner, l.Pod, l.IndividualAccount,
		l.AccountNameAccount, l.KnownAs, l.Account,
	}
}

// Width is the minimum number of columns a data row must carry.
func (l Layout) Width() int {
	width := 0
	for _, c := range l.columns() {
		if c+1 > width {
			width = c + 1
		}
	}
	return width
}

// Validate rejects negative column indexes and a missing date layout.
func (l Layout) Validate() error {
	for _, c := range l.columns() {
		if c < 0 {
			return fmt.Errorf("ingest: negative column index %d", c)
		}
	}
	if l.DateLayout == "" {
		return fmt.Errorf("ingest: date layout required")
	}
	return nil
}
