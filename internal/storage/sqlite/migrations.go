package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/laminark/laminark/internal/logging"
)

// Migration is one entry in the ordered registry, mirroring the teacher's
// Migration{Name, Func} struct.
type Migration struct {
	Version int
	Name    string
	Func    func(ctx context.Context, tx *sql.Tx) error
}

// migrationsList is Laminark's single ordered migration registry.
//
// Versions are a global, monotonically increasing sequence and are never
// renumbered once assigned — the teacher's repo hit migration-number
// collisions historically when two features both claimed the next integer;
// this registry's sole defense is discipline: always append at the end.
var migrationsList = []Migration{
	{1, "initial_schema", migrateInitialSchema},
}

// ListMigrations returns the names of all registered migrations in order.
func ListMigrations() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.Name
	}
	return names
}

func migrateInitialSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, schemaV1)
	return err
}

// RunMigrations applies any migration whose version is not yet recorded in
// schema_migrations, in order, each inside its own transaction with foreign
// keys turned off around it — mirroring the teacher's
// PRAGMA-foreign_keys-off pattern, restored afterward. Re-running on a fully
// migrated database is a no-op.
func RunMigrations(ctx context.Context, db *sql.DB, log logging.Logger) error {
	if log == nil {
		log = logging.Nop{}
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("migrations: failed to ensure registry table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("migrations: failed to read applied versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("migrations: failed to scan version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrationsList {
		if applied[m.Version] {
			continue
		}

		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
			return fmt.Errorf("migrations: failed to disable foreign keys: %w", err)
		}

		err := func() (err error) {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("migrations: failed to begin %s: %w", m.Name, err)
			}
			committed := false
			defer func() {
				if !committed {
					_ = tx.Rollback()
				}
			}()

			if err := m.Func(ctx, tx); err != nil {
				return fmt.Errorf("migrations: %s failed: %w", m.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("migrations: failed to record %s: %w", m.Name, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("migrations: failed to commit %s: %w", m.Name, err)
			}
			committed = true
			return nil
		}()

		if _, fkErr := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); fkErr != nil {
			log.Warn("failed to restore foreign_keys pragma", "error", fkErr)
		}

		if err != nil {
			return err
		}
		log.Info("migration applied", "version", m.Version, "name", m.Name)
	}

	return nil
}
