package revenue

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AggregateSpec describes how records of type T fold into rows.
type AggregateSpec[T any] struct {
	// Key derives the grouping key.
	Key func(T) Key
	// Seed supplies the non-year attributes of a new row. It is only called for
	// the first record of each key.
	Seed func(T) Row
	// Amount returns the value the record contributes to year.
	Amount func(T, int) (decimal.Decimal, error)
}

func (s AggregateSpec[T]) validate() error {
	if s.Key == nil || s.Seed == nil || s.Amount == nil {
		return fmt.Errorf("revenue: aggregate spec incomplete")
	}
	return nil
}

// Aggregate folds records into one row per distinct key. Rows come back in the
// order their key first appears in records. Non-year attributes are taken from
// the first record of each key; year values are summed without re-rounding.
func Aggregate[T any](records []T, years YearRange, spec AggregateSpec[T]) ([]Row, error) {
	if err := years.Validate(); err != nil {
		return nil, err
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	t := newTable(years, spec, len(records))
	for _, rec := range records {
		if err := t.add(rec); err != nil {
			return nil, err
		}
	}
	return t.result(), nil
}

// table is an insertion-ordered key->row index.
type table[T any] struct {
	spec     AggregateSpec[T]
	years    YearRange
	yearList []int
	index    map[Key]int
	rows     []Row
}

func newTable[T any](years YearRange, spec AggregateSpec[T], sizeHint int) *table[T] {
	return &table[T]{
		spec:     spec,
		years:    years,
		yearList: years.Years(),
		index:    make(map[Key]int, sizeHint),
		rows:     make([]Row, 0, sizeHint),
	}
}

func (t *table[T]) add(rec T) error {
	key := t.spec.Key(rec)
	idx, ok := t.index[key]
	if !ok {
		idx = t.insert(key, t.spec.Seed(rec))
	}
	row := &t.rows[idx]
	for i, year := range t.yearList {
		v, err := t.spec.Amount(rec, year)
		if err != nil {
			return err
		}
		row.Revenue[i] = row.Revenue[i].Add(v)
	}
	return nil
}

func (t *table[T]) insert(key Key, seed Row) int {
	seed.Key = key
	seed.Years = t.years
	seed.Revenue = make([]decimal.Decimal, t.years.Len())
	for i := range seed.Revenue {
		seed.Revenue[i] = decimal.Zero
	}
	idx := len(t.rows)
	t.rows = append(t.rows, seed)
	t.index[key] = idx
	return idx
}

// merge folds other, built from records that follow every record of t, into t.
// Keys new to t are appended in other's order, which keeps first-occurrence
// order across the concatenated input.
func (t *table[T]) merge(other *table[T]) {
	for _, row := range other.rows {
		idx, ok := t.index[row.Key]
		if !ok {
			t.insert(row.Key, row)
			idx = len(t.rows) - 1
			copy(t.rows[idx].Revenue, row.Revenue)
			continue
		}
		dst := &t.rows[idx]
		for i := range dst.Revenue {
			dst.Revenue[i] = dst.Revenue[i].Add(row.Revenue[i])
		}
	}
}

func (t *table[T]) result() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}
