package mapping

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool used by PostgresSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource loads the table from account_name_mappings ordered by position.
type PostgresSource struct {
	db Querier
}

// NewPostgresSource constructs a Postgres backed loader.
func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

// Load implements Loader.
func (s *PostgresSource) Load(ctx context.Context) (*Table, error) {
	rows, err := s.db.Query(ctx, `SELECT from_name, to_name FROM account_name_mappings ORDER BY position, from_name`)
	if err != nil {
		return nil, fmt.Errorf("mapping: query: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.From, &e.To)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("mapping: scan: %w", err)
	}
	return NewTable(entries), nil
}
