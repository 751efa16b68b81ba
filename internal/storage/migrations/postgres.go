package migrations

import (
	"context"
	"fmt"

	"futures-risk-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded Postgres scripts in lexical order.
// Every script is idempotent (CREATE ... IF NOT EXISTS).
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	scripts, err := Scripts(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, err := pool.Exec(ctx, s.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.Name, err)
		}
	}
	return nil
}
