// Package ingest turns CRM export CSV files into revenue detail records.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/revreport/internal/revenue"
)

var (
	// ErrInvalidRow marks a data row whose date or amount cannot be parsed.
	ErrInvalidRow = errors.New("ingest: invalid row")
	// ErrMalformedCSV wraps reader errors for input that is not CSV.
	ErrMalformedCSV = errors.New("ingest: malformed csv")
)

// Resolver canonicalises account names. mapping.Table satisfies it.
type Resolver interface {
	Resolve(name string) string
}

type identity struct{}

func (identity) Resolve(name string) string { return name }

// Result is the outcome of parsing one export.
type Result struct {
	Records []revenue.DetailRecord `json:"-"`
	// Rows counts data rows: header and short rows are excluded.
	Rows int `json:"rows"`
	// Skipped counts rows without any usable account name.
	Skipped int `json:"skipped"`
	// Rejected counts rows with an unparseable date or amount.
	Rejected int `json:"rejected"`
}

// Parser reads CRM exports laid out per Layout.
type Parser struct {
	layout   Layout
	resolver Resolver
	logger   *slog.Logger
}

// NewParser constructs a parser. A nil resolver leaves account names untouched.
func NewParser(layout Layout, resolver Resolver, logger *slog.Logger) (*Parser, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = identity{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{layout: layout, resolver: resolver, logger: logger}, nil
}

// Parse streams r and returns every usable record in file order.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	width := p.layout.Width()
	var result Result
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
		}
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		if len(record) < width {
			continue
		}
		if line == 1 {
			record[0] = strings.TrimPrefix(record[0], "\ufeff")
		}
		if record[0] == p.layout.Header {
			continue
		}
		result.Rows++

		rec, err := p.record(record)
		if err != nil {
			result.Rejected++
			p.logger.Warn("reject export row", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(rec.Account) == "" {
			result.Skipped++
			p.logger.Warn("skip export row without account name",
				slog.Int("line", line),
				slog.String("owner", rec.Owner),
				slog.String("product_line", rec.ProductLine),
				slog.String("amount", rec.Amount.String()),
				slog.String("row", strings.Join(record, ",")))
			continue
		}
		rec.Account = p.resolver.Resolve(rec.Account)
		result.Records = append(result.Records, rec)
	}
	p.logger.Info("export parsed",
		slog.Int("rows", result.Rows),
		slog.Int("records", len(result.Records)),
		slog.Int("skipped", result.Skipped),
		slog.Int("rejected", result.Rejected))
	return result, nil
}

func (p *Parser) record(row []string) (revenue.DetailRecord, error) {
	l := p.layout
	start, err := p.date(row[l.StartDate])
	if err != nil {
		return revenue.DetailRecord{}, fmt.Errorf("%w: start date %q", ErrInvalidRow, row[l.StartDate])
	}
	end, err := p.date(row[l.EndDate])
	if err != nil {
		return revenue.DetailRecord{}, fmt.Errorf("%w: end date %q", ErrInvalidRow, row[l.EndDate])
	}
	amount, err := ParseAmount(row[l.Amount])
	if err != nil {
		return revenue.DetailRecord{}, fmt.Errorf("%w: amount %q", ErrInvalidRow, row[l.Amount])
	}
	return revenue.DetailRecord{
		Owner:         row[l.Owner],
		Account:       accountName(row, l),
		ProductLine:   row[l.ProductLine],
		ProductFamily: row[l.ProductFamily],
		Pod:           row[l.Pod],
		Amount:        amount,
		StartDate:     start,
		EndDate:       end,
	}, nil
}

func (p *Parser) date(value string) (time.Time, error) {
	return time.ParseInLocation(p.layout.DateLayout, strings.TrimSpace(value), time.UTC)
}

// accountName walks the fallback columns and returns the first non-blank value
// as it appears in the file.
func accountName(row []string, l Layout) string {
	for _, idx := range []int{l.Account, l.IndividualAccount, l.UltimateAccount, l.AccountNameAccount, l.KnownAs} {
		if strings.TrimSpace(row[idx]) != "" {
			return row[idx]
		}
	}
	return ""
}

// ParseAmount accepts plain decimals plus thousands separators, a leading
// dollar sign and accounting style parentheses for credits.
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}
