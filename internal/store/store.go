// Package store persists finished report runs to PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/revreport/internal/platform/db"
	"github.com/odyssey-erp/revreport/internal/revenue"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("store: report run not found")

// Run is a persisted report.
type Run struct {
	ID        uuid.UUID      `json:"id"`
	Source    string         `json:"source"`
	InputRows int            `json:"input_rows"`
	Skipped   int            `json:"skipped"`
	Rejected  int            `json:"rejected"`
	CreatedAt time.Time      `json:"created_at"`
	Report    revenue.Report `json:"report"`
}

// Summary is a run without its rows.
type Summary struct {
	ID          uuid.UUID         `json:"id"`
	Source      string            `json:"source"`
	Years       revenue.YearRange `json:"years"`
	InputRows   int               `json:"input_rows"`
	Skipped     int               `json:"skipped"`
	Rejected    int               `json:"rejected"`
	ProductRows int               `json:"product_rows"`
	AccountRows int               `json:"account_rows"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Repository is the persistence contract used by jobs and handlers.
type Repository interface {
	SaveRun(ctx context.Context, run Run) (uuid.UUID, error)
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Summary, error)
}

// Store implements Repository on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// SaveRun writes the run header and every row in one transaction. A zero ID is
// replaced by a fresh UUID.
func (s *Store) SaveRun(ctx context.Context, run Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	if err := run.Report.Years.Validate(); err != nil {
		return uuid.Nil, err
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO report_runs (id, source, first_year, last_year, input_rows, skipped, rejected, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			run.ID, run.Source, run.Report.Years.First, run.Report.Years.Last,
			run.InputRows, run.Skipped, run.Rejected, run.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert run: %w", err)
		}
		rows := rowValues(run.ID, run.Report)
		if len(rows) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"report_rows"},
			[]string{"run_id", "level", "position", "pod", "owner", "account", "product_family", "product_line", "revenue"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("store: copy rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// GetRun loads a run and its rows in their original order.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	var run Run
	var first, last int
	err := s.pool.QueryRow(ctx, `SELECT id, source, first_year, last_year, input_rows, skipped, rejected, created_at
FROM report_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.Source, &first, &last, &run.InputRows, &run.Skipped, &run.Rejected, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, fmt.Errorf("store: get run: %w", err)
	}
	years := revenue.YearRange{First: first, Last: last}
	run.Report = revenue.Report{Years: years, Skipped: run.Skipped}

	rows, err := s.pool.Query(ctx, `SELECT level, pod, owner, account, product_family, product_line, revenue
FROM report_rows WHERE run_id = $1 ORDER BY level, position`, id)
	if err != nil {
		return Run{}, fmt.Errorf("store: query rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			level   int16
			row     revenue.Row
			amounts []pgtype.Numeric
		)
		if err := rows.Scan(&level, &row.Pod, &row.Owner, &row.Account, &row.ProductFamily, &row.ProductLine, &amounts); err != nil {
			return Run{}, fmt.Errorf("store: scan row: %w", err)
		}
		row.Years = years
		row.Revenue, err = decodeRevenue(amounts, years)
		if err != nil {
			return Run{}, err
		}
		row.Key = revenue.KeyFor(row, revenue.Level(level))
		switch revenue.Level(level) {
		case revenue.LevelProduct:
			run.Report.Products = append(run.Report.Products, row)
		case revenue.LevelAccount:
			run.Report.Accounts = append(run.Report.Accounts, row)
		}
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("store: iterate rows: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT r.id, r.source, r.first_year, r.last_year, r.input_rows, r.skipped, r.rejected, r.created_at,
       COUNT(*) FILTER (WHERE rr.level = $2), COUNT(*) FILTER (WHERE rr.level = $3)
FROM report_runs r
LEFT JOIN report_rows rr ON rr.run_id = r.id
GROUP BY r.id
ORDER BY r.created_at DESC
LIMIT $1`, limit, int16(revenue.LevelProduct), int16(revenue.LevelAccount))
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var sum Summary
		err := row.Scan(&sum.ID, &sum.Source, &sum.Years.First, &sum.Years.Last, &sum.InputRows,
			&sum.Skipped, &sum.Rejected, &sum.CreatedAt, &sum.ProductRows, &sum.AccountRows)
		return sum, err
	})
}

func rowValues(id uuid.UUID, report revenue.Report) [][]any {
	out := make([][]any, 0, len(report.Products)+len(report.Accounts))
	add := func(level revenue.Level, rows []revenue.Row) {
		for i, row := range rows {
			out = append(out, []any{
				id, int16(level), int32(i),
				row.Pod, row.Owner, row.Account, row.ProductFamily, row.ProductLine,
				encodeRevenue(row, report.Years),
			})
		}
	}
	add(revenue.LevelProduct, report.Products)
	add(revenue.LevelAccount, report.Accounts)
	return out
}

// encodeRevenue converts one amount per year into the numeric[] column.
func encodeRevenue(row revenue.Row, years revenue.YearRange) []pgtype.Numeric {
	out := make([]pgtype.Numeric, 0, years.Len())
	for _, y := range years.Years() {
		d := row.For(y)
		out = append(out, pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true})
	}
	return out
}

func decodeRevenue(values []pgtype.Numeric, years revenue.YearRange) ([]decimal.Decimal, error) {
	if len(values) != years.Len() {
		return nil, fmt.Errorf("store: expected %d revenue columns, got %d", years.Len(), len(values))
	}
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		if !v.Valid || v.NaN || v.InfinityModifier != pgtype.Finite {
			return nil, fmt.Errorf("store: revenue column %d is not a finite number", i)
		}
		out[i] = decimal.NewFromBigInt(v.Int, v.Exp)
	}
	return out, nil
}
