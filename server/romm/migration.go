// Package romm holds the domain types shared between the datastore
// implementations and the commands that drive them.
package romm

import "context"

type MigrationStatusCode int

const (
	// NoMigrationsCompleted means the database has no migration table or
	// an empty one.
	NoMigrationsCompleted MigrationStatusCode = iota
	// SomeMigrationsCompleted means the database is behind the known
	// migrations.
	SomeMigrationsCompleted
	// AllMigrationsCompleted means known and applied migrations match.
	AllMigrationsCompleted
	// UnknownMigrations means the database has applied migrations this
	// build does not know about (e.g. an older binary on a newer schema).
	UnknownMigrations
)

// MigrationStatus comes from comparing the migrations known in code against
// the applied migrations recorded in the database.
type MigrationStatus struct {
	StatusCode MigrationStatusCode `json:"status_code"`

	// Missing holds the known migration versions not yet applied to the
	// database. Only set when StatusCode is SomeMigrationsCompleted.
	Missing []int64 `json:"missing"`
	// Unknown holds the applied migration versions this build does not
	// know about. Only set when StatusCode is UnknownMigrations.
	Unknown []int64 `json:"unknown"`
}

// Datastore is the surface the migration runner needs from a database.
type Datastore interface {
	// MigrateTables applies all pending schema migrations.
	MigrateTables(ctx context.Context) error
	// RollbackTables rolls back the most recently applied migration.
	RollbackTables(ctx context.Context) error
	// MigrationStatus compares known and applied migrations.
	MigrationStatus(ctx context.Context) (*MigrationStatus, error)
	// Version returns the current migration version of the database.
	Version(ctx context.Context) (int64, error)

	Close() error
}
