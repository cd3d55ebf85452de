// Package export writes aggregated revenue rows in the report file format:
// double-quoted text columns, bare two-decimal amounts, no header.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/revreport/internal/revenue"
)

const (
	flushEvery = 200
	bufferSize = 32 * 1024
)

type streamer struct {
	buf          *bufio.Writer
	flushEvery   int
	pendingLines int
}

func newStreamer(w io.Writer) *streamer {
	return &streamer{buf: bufio.NewWriterSize(w, bufferSize), flushEvery: flushEvery}
}

func (s *streamer) writeRow(text []string, amounts []decimal.Decimal) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("export: streamer not initialised")
	}
	for i, field := range text {
		if i > 0 {
			s.buf.WriteByte(',')
		}
		s.buf.WriteString(quote(field))
	}
	for _, amount := range amounts {
		s.buf.WriteByte(',')
		s.buf.WriteString(FormatAmount(amount))
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *streamer) Flush() error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("export: streamer not initialised")
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func amounts(row revenue.Row, years revenue.YearRange) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, years.Len())
	for _, y := range years.Years() {
		out = append(out, row.For(y))
	}
	return out
}

// WriteProductRows writes pod, owner, account, family, line and one amount per year.
func WriteProductRows(w io.Writer, rows []revenue.Row, years revenue.YearRange) error {
	s := newStreamer(w)
	for _, row := range rows {
		text := []string{row.Pod, row.Owner, row.Account, row.ProductFamily, row.ProductLine}
		if err := s.writeRow(text, amounts(row, years)); err != nil {
			return err
		}
	}
	return s.Flush()
}

// WriteAccountRows writes pod, owner, account and one amount per year.
func WriteAccountRows(w io.Writer, rows []revenue.Row, years revenue.YearRange) error {
	s := newStreamer(w)
	for _, row := range rows {
		text := []string{row.Pod, row.Owner, row.Account}
		if err := s.writeRow(text, amounts(row, years)); err != nil {
			return err
		}
	}
	return s.Flush()
}

// WriteLevel dispatches to the writer for level.
func WriteLevel(w io.Writer, report revenue.Report, level revenue.Level) error {
	switch level {
	case revenue.LevelProduct:
		return WriteProductRows(w, report.Products, report.Years)
	case revenue.LevelAccount:
		return WriteAccountRows(w, report.Accounts, report.Years)
	default:
		return fmt.Errorf("export: unknown level %d", level)
	}
}
