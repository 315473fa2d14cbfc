// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/git-db/git-db/pkg/ledger"
	"github.com/git-db/git-db/pkg/pgdb"
)

// The version of postgres against which the tests are run if the
// POSTGRES_VERSION environment variable is not set.
const defaultPostgresVersion = "15.3"

// tConnStr holds the connection string to the test container created in
// TestMain.
var tConnStr string

// SharedTestMain starts a postgres container to be used by all tests in a
// package. Each test then connects to the container and creates a new
// database.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		os.Exit(1)
	}

	tConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate container: %v", err)
	}

	os.Exit(exitCode)
}

// WithConnectionToContainer creates a fresh database in the shared test
// container and hands the caller a *sql.DB and its connection string.
func WithConnectionToContainer(t *testing.T, fn func(db *sql.DB, connStr string)) {
	t.Helper()
	db, connStr, _ := setupTestDatabase(t)
	fn(db, connStr)
}

// WithLedgerAndConnectionToContainer creates a fresh database, initializes
// its ledger, and hands the caller both.
func WithLedgerAndConnectionToContainer(t *testing.T, fn func(l *ledger.Ledger, db *sql.DB)) {
	t.Helper()
	ctx := context.Background()

	db, _, _ := setupTestDatabase(t)

	l := ledger.New(db, "test")
	if err := l.Init(ctx); err != nil {
		t.Fatal(err)
	}

	fn(l, db)
}

// WithPgdbConnToContainer creates a fresh database and hands the caller a
// *pgdb.Conn wrapping it.
func WithPgdbConnToContainer(t *testing.T, fn func(conn *pgdb.Conn, dbName string)) {
	t.Helper()
	ctx := context.Background()

	_, connStr, dbName := setupTestDatabase(t)

	u, err := url.Parse(connStr)
	if err != nil {
		t.Fatal(err)
	}

	password, _ := u.User.Password()
	conn, err := pgdb.Connect(ctx, u.Hostname(), u.Port(), u.User.Username(), password, dbName)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	fn(conn, dbName)
}

// ServerConnStr returns the connection string to the shared container's
// default database, for tests that exercise cross-database operations
// such as `CREATE DATABASE`.
func ServerConnStr() string {
	return tConnStr
}

// setupTestDatabase creates a new database in the test container and
// returns a connection to it, its connection string, and its name.
func setupTestDatabase(t *testing.T) (*sql.DB, string, string) {
	t.Helper()
	ctx := context.Background()

	tDB, err := sql.Open("postgres", tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := tDB.Close(); err != nil {
			t.Fatalf("Failed to close database connection: %v", err)
		}
	})

	dbName := randomDBName()

	_, err = tDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(tConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close database connection: %v", err)
		}
	})

	return db, connStr, dbName
}
