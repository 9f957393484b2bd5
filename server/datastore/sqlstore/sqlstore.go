// Package sqlstore is the SQL implementation of the romm.Datastore
// interface. The same store runs against MySQL or PostgreSQL; everything
// dialect-specific lives in the migrations or behind dburl.
package sqlstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	// both supported drivers are always registered
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/Tux00-repo/romm/server/config"
	"github.com/Tux00-repo/romm/server/datastore/dburl"
	"github.com/Tux00-repo/romm/server/datastore/sqlstore/migrations/tables"
	"github.com/Tux00-repo/romm/server/romm"
)

const defaultConnectTimeout = 30 * time.Second

var _ romm.Datastore = (*Datastore)(nil)

// Datastore is an implementation of romm.Datastore backed by a relational
// database.
type Datastore struct {
	db      *sqlx.DB
	dialect database.Dialect
	logger  log.Logger
	config  config.DatabaseConfig
	client  *goose.Provider
}

type dbOptions struct {
	connectTimeout time.Duration
	logger         log.Logger
}

type DBOption func(o *dbOptions)

// Logger sets a logger for the datastore.
func Logger(l log.Logger) DBOption {
	return func(o *dbOptions) {
		o.logger = l
	}
}

// ConnectTimeout sets how long New keeps retrying the initial connection.
func ConnectTimeout(t time.Duration) DBOption {
	return func(o *dbOptions) {
		o.connectTimeout = t
	}
}

// New opens a connection for the configured dialect and verifies it.
func New(cfg config.DatabaseConfig, opts ...DBOption) (*Datastore, error) {
	options := &dbOptions{
		connectTimeout: defaultConnectTimeout,
		logger:         log.NewNopLogger(),
	}
	for _, setOpt := range opts {
		if setOpt != nil {
			setOpt(options)
		}
	}

	dialect, err := gooseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	db, err := newDB(&cfg, options)
	if err != nil {
		return nil, err
	}

	client, err := tables.NewClient(dialect, db.DB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Datastore{
		db:      db,
		dialect: dialect,
		logger:  options.logger,
		config:  cfg,
		client:  client,
	}, nil
}

func newDB(cfg *config.DatabaseConfig, opts *dbOptions) (*sqlx.DB, error) {
	driver, err := dburl.DriverName(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	dsn, err := dburl.DSN(cfg.Dialect, cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Second * time.Duration(cfg.ConnMaxLifetime))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.connectTimeout
	if err := backoff.Retry(func() error {
		if err := db.Ping(); err != nil {
			opts.logger.Log(cfg.Dialect, errors.Wrap(err, "could not connect to db, retrying"))
			return err
		}
		return nil
	}, bo); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connect to database")
	}

	return db, nil
}

func gooseDialect(dialect string) (database.Dialect, error) {
	switch dialect {
	case dburl.DialectMySQL:
		return database.DialectMySQL, nil
	case dburl.DialectPostgres:
		return database.DialectPostgres, nil
	default:
		return "", errors.Errorf("unsupported database dialect %q", dialect)
	}
}

// MigrateTables applies all pending schema migrations.
func (d *Datastore) MigrateTables(ctx context.Context) error {
	_, err := d.client.Up(ctx)
	return errors.Wrap(err, "migrate tables")
}

// RollbackTables rolls back the most recently applied migration.
func (d *Datastore) RollbackTables(ctx context.Context) error {
	_, err := d.client.Down(ctx)
	return errors.Wrap(err, "rollback tables")
}

// Version returns the current migration version of the database.
func (d *Datastore) Version(ctx context.Context) (int64, error) {
	return d.client.GetDBVersion(ctx)
}

// loadMigrations loads the applied migration versions in ascending apply
// order (goose doesn't provide such functionality).
func (d *Datastore) loadMigrations(ctx context.Context) ([]int64, error) {
	// triggers the creation of the migration status table if missing
	if _, err := d.client.GetDBVersion(ctx); err != nil {
		return nil, err
	}
	// version_id > 0 skips the bootstrap row goose inserts when it creates
	// the table
	var recs []int64
	if err := sqlx.SelectContext(ctx, d.db, &recs,
		"SELECT version_id FROM "+tables.MigrationTableName+" WHERE version_id > 0 AND is_applied ORDER BY id ASC",
	); err != nil {
		return nil, err
	}
	return recs, nil
}

// MigrationStatus compares the migrations known in code against the applied
// migrations recorded in the database.
func (d *Datastore) MigrationStatus(ctx context.Context) (*romm.MigrationStatus, error) {
	applied, err := d.loadMigrations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load migrations")
	}
	if len(applied) == 0 {
		return &romm.MigrationStatus{
			StatusCode: romm.NoMigrationsCompleted,
		}, nil
	}

	missing, unknown, equal := compareVersions(getVersionsFromMigrations(tables.All()), applied)
	switch {
	case equal:
		return &romm.MigrationStatus{
			StatusCode: romm.AllMigrationsCompleted,
		}, nil
	case len(unknown) > 0:
		return &romm.MigrationStatus{
			StatusCode: romm.UnknownMigrations,
			Unknown:    unknown,
		}, nil
	default:
		return &romm.MigrationStatus{
			StatusCode: romm.SomeMigrationsCompleted,
			Missing:    missing,
		}, nil
	}
}

func (d *Datastore) Close() error {
	return d.db.Close()
}

func getVersionsFromMigrations(migrations []*goose.Migration) []int64 {
	versions := make([]int64, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	return versions
}

// compareVersions returns any missing or extra elements in v2 with respect
// to v1 (v1 or v2 need not be ordered).
func compareVersions(v1, v2 []int64) (missing []int64, unknown []int64, equal bool) {
	v1s := make(map[int64]struct{})
	for _, m := range v1 {
		v1s[m] = struct{}{}
	}
	v2s := make(map[int64]struct{})
	for _, m := range v2 {
		v2s[m] = struct{}{}
	}
	for _, m := range v1 {
		if _, ok := v2s[m]; !ok {
			missing = append(missing, m)
		}
	}
	for _, m := range v2 {
		if _, ok := v1s[m]; !ok {
			unknown = append(unknown, m)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil, nil, true
	}
	return missing, unknown, false
}
