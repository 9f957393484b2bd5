// Package tables holds romm table migrations.
//
// Every migration must behave identically on MySQL and PostgreSQL.
// Migrations can be tested with tests following the following format:
//
//	func TestUp_20260806114512(t *testing.T) {
//		forEachDialect(t, func(t *testing.T, db *testDB) {
//			// Apply all migrations up to the version in the test name,
//			// not included.
//			applyUpToPrev(t, db)
//
//			// insert testing data, etc.
//
//			// The following will apply migration 20260806114512.
//			applyNext(t, db)
//
//			// insert testing data, verify migration.
//		})
//	}
//
// Tests connect to the servers named by the TEST_MYSQL_URL and
// TEST_POSTGRES_URL environment variables and carve out a throwaway
// database per test; a dialect with no URL configured is skipped.
package tables

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/Tux00-repo/romm/server/datastore/dburl"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDialects = []struct {
	dialect database.Dialect
	envVar  string
	adminDB string
}{
	{database.DialectMySQL, "TEST_MYSQL_URL", ""},
	{database.DialectPostgres, "TEST_POSTGRES_URL", "postgres"},
}

type testDB struct {
	*sqlx.DB
	dialect database.Dialect
	client  *goose.Provider
}

var dbNameSanitizer = regexp.MustCompile(`[^a-z0-9_]`)

// testDBName derives a database name from the test name, valid for both
// engines.
func testDBName(t *testing.T) string {
	name := dbNameSanitizer.ReplaceAllString(strings.ToLower(t.Name()), "_")
	if len(name) > 48 {
		name = name[:48]
	}
	return name
}

// forEachDialect runs fn as a subtest per configured dialect, each against
// a freshly created database.
func forEachDialect(t *testing.T, fn func(t *testing.T, db *testDB)) {
	for _, td := range testDialects {
		t.Run(string(td.dialect), func(t *testing.T) {
			fn(t, newDBConnForTests(t, td.dialect, td.envVar, td.adminDB))
		})
	}
}

func newDBConnForTests(t *testing.T, d database.Dialect, envVar, adminDB string) *testDB {
	rawURL := os.Getenv(envVar)
	if rawURL == "" {
		t.Skipf("%s not set", envVar)
	}

	name := testDBName(t)

	adminURL, err := dburl.WithDatabase(string(d), rawURL, adminDB)
	require.NoError(t, err)
	adminDSN, err := dburl.DSN(string(d), adminURL)
	require.NoError(t, err)
	admin, err := sqlx.Open(string(d), adminDSN)
	require.NoError(t, err)
	_, err = admin.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", name))
	require.NoError(t, err)
	_, err = admin.Exec(fmt.Sprintf("CREATE DATABASE %s", name))
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	testURL, err := dburl.WithDatabase(string(d), rawURL, name)
	require.NoError(t, err)
	dsn, err := dburl.DSN(string(d), testURL)
	require.NoError(t, err)
	db, err := sqlx.Open(string(d), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client, err := NewClient(d, db.DB)
	require.NoError(t, err)

	return &testDB{DB: db, dialect: d, client: client}
}

// getMigrationVersion extracts the migration version (timestamp) from the
// test name. Migration test functions look like:
//
//	func TestUp_20260806114512(t *testing.T)
//
// Scenario suffixes (TestUp_20260806114512_scenario1) and sub-tests both
// work.
func getMigrationVersion(t *testing.T) int64 {
	baseName, _, _ := strings.Cut(t.Name(), "/")
	withoutPrefix := strings.TrimPrefix(baseName, "TestUp_")
	timestampPart, _, _ := strings.Cut(withoutPrefix, "_")
	v, err := strconv.Atoi(timestampPart)
	require.NoError(t, err)
	return int64(v)
}

// applyUpToPrev applies migrations up to, not including, the migration
// version in the test name.
func applyUpToPrev(t *testing.T, db *testDB) {
	v := getMigrationVersion(t)
	_, err := db.client.UpTo(context.Background(), v-1)
	require.NoError(t, err)
}

// applyNext performs the next migration in the chain.
func applyNext(t *testing.T, db *testDB) {
	_, err := db.client.UpByOne(context.Background())
	require.NoError(t, err)
}

// applyDown rolls back the most recently applied migration.
func applyDown(t *testing.T, db *testDB) {
	_, err := db.client.Down(context.Background())
	require.NoError(t, err)
}

func execNoErrLastID(t *testing.T, db *testDB, query string, args ...any) int64 {
	res, err := db.Exec(db.Rebind(query), args...)
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	return id
}

func execNoErr(t *testing.T, db *testDB, query string, args ...any) {
	execNoErrLastID(t, db, query, args...)
}

func assertRowCount(t *testing.T, db *testDB, table string, count int) {
	var n int
	err := db.Get(&n, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
	require.NoError(t, err)
	assert.Equal(t, count, n)
}

// tableNames returns the table names visible in the test database.
func tableNames(t *testing.T, db *testDB) []string {
	q := `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`
	if db.dialect == database.DialectPostgres {
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`
	}
	var names []string
	require.NoError(t, db.Select(&names, q))
	return names
}

func columnNames(t *testing.T, db *testDB, table string) []string {
	q := `SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?`
	if db.dialect == database.DialectPostgres {
		q = `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`
	}
	var names []string
	require.NoError(t, db.Select(&names, db.Rebind(q), table))
	return names
}

func indexNames(t *testing.T, db *testDB, table string) []string {
	q := `SELECT DISTINCT index_name FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ?`
	if db.dialect == database.DialectPostgres {
		q = `SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = ?`
	}
	var names []string
	require.NoError(t, db.Select(&names, db.Rebind(q), table))
	return names
}
