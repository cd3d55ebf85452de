package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/revreport/internal/mapping"
	"github.com/odyssey-erp/revreport/internal/platform/db"
)

// ReplaceMappings swaps the account_name_mappings table for entries, keeping
// their order in the position column.
func (s *Store) ReplaceMappings(ctx context.Context, entries []mapping.Entry) (int, error) {
	var count int
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM account_name_mappings`); err != nil {
			return fmt.Errorf("store: clear mappings: %w", err)
		}
		rows := make([][]any, len(entries))
		for i, e := range entries {
			rows[i] = []any{int32(i), e.From, e.To}
		}
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"account_name_mappings"},
			[]string{"position", "from_name", "to_name"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("store: copy mappings: %w", err)
		}
		count = int(n)
		return nil
	})
	return count, err
}

// Mappings returns a loader reading the table through the same pool.
func (s *Store) Mappings() *mapping.PostgresSource {
	return mapping.NewPostgresSource(s.pool)
}
