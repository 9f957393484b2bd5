package tables

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

// MigrationTableName is the table recording applied migration versions.
const MigrationTableName = "migration_status_tables"

var migrations []*goose.Migration

// addMigration registers an up/down pair under the given version. Each
// migration file calls it from init().
func addMigration(version int64, up, down func(ctx context.Context, tx *sql.Tx) error) {
	migrations = append(migrations, goose.NewGoMigration(
		version,
		&goose.GoFunc{RunTx: up},
		&goose.GoFunc{RunTx: down},
	))
}

// All returns the registered migrations ordered by version.
func All() []*goose.Migration {
	out := make([]*goose.Migration, len(migrations))
	copy(out, migrations)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// NewClient builds a migration provider for a db speaking the given
// dialect. Versions are tracked in MigrationTableName rather than goose's
// default table.
func NewClient(d database.Dialect, db *sql.DB) (*goose.Provider, error) {
	store, err := database.NewStore(d, MigrationTableName)
	if err != nil {
		return nil, errors.Wrap(err, "create migration store")
	}
	provider, err := goose.NewProvider("", db, nil,
		goose.WithStore(store),
		goose.WithGoMigrations(All()...),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create migration provider")
	}
	return provider, nil
}

// can override in tests
var outputTo io.Writer = os.Stderr

type migrationStep func(ctx context.Context, tx *sql.Tx) error

func basicMigrationStep(statement string, errorMessage string) migrationStep {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, statement)
		return errors.Wrap(err, errorMessage)
	}
}

func withSteps(ctx context.Context, tx *sql.Tx, steps []migrationStep) error {
	stepCount := len(steps)
	for i, step := range steps {
		if stepCount > 1 {
			_, _ = fmt.Fprintf(outputTo, "  Step %d of %d\n", i+1, stepCount)
		}
		if err := step(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

type sqlDialect int

const (
	dialectUnknown sqlDialect = iota
	dialectMySQL
	dialectPostgres
)

// detectDialect probes the engine the migration is running against.
// PostgreSQL's version banner self-identifies; MySQL and MariaDB return a
// bare version string.
func detectDialect(ctx context.Context, tx *sql.Tx) (sqlDialect, error) {
	var version string
	if err := tx.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return dialectUnknown, errors.Wrap(err, "detect database dialect")
	}
	if strings.Contains(version, "PostgreSQL") {
		return dialectPostgres, nil
	}
	return dialectMySQL, nil
}

// rebind rewrites ? placeholders into the dialect's bind form.
func rebind(d sqlDialect, query string) string {
	if d == dialectPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// schemaExpr is the SQL expression naming the schema the migration runs in.
func schemaExpr(d sqlDialect) string {
	if d == dialectPostgres {
		return "current_schema()"
	}
	return "DATABASE()"
}

func tableExists(ctx context.Context, tx *sql.Tx, d sqlDialect, table string) bool {
	q := rebind(d, `
SELECT COUNT(1)
FROM information_schema.tables
WHERE table_schema = `+schemaExpr(d)+`
AND table_name = ?
	`)
	var count int
	if err := tx.QueryRowContext(ctx, q, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func columnExists(ctx context.Context, tx *sql.Tx, d sqlDialect, table, column string) bool {
	q := rebind(d, `
SELECT COUNT(1)
FROM information_schema.columns
WHERE table_schema = `+schemaExpr(d)+`
AND table_name = ?
AND column_name = ?
	`)
	var count int
	if err := tx.QueryRowContext(ctx, q, table, column).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func indexExists(ctx context.Context, tx *sql.Tx, d sqlDialect, table, index string) bool {
	var q string
	if d == dialectPostgres {
		q = rebind(d, `
SELECT COUNT(1)
FROM pg_indexes
WHERE schemaname = current_schema()
AND tablename = ?
AND indexname = ?
		`)
	} else {
		q = `
SELECT COUNT(1)
FROM information_schema.statistics
WHERE table_schema = DATABASE()
AND table_name = ?
AND index_name = ?
		`
	}
	var count int
	if err := tx.QueryRowContext(ctx, q, table, index).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
