package sqlstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SQLiteTestDSN returns the DSN of a fresh database file under t.TempDir().
func SQLiteTestDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "events.db") + "?_journal_mode=WAL&_busy_timeout=5000"
}

// NewPostgresTestContainer starts a PostgreSQL server for the duration of
// the test and returns its DSN. Tests are skipped when no container runtime
// is available.
func NewPostgresTestContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgC, err := testcontainers.Run(
		t.Context(), "postgres:17-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "eventstore",
			"POSTGRES_PASSWORD": "eventstore",
			"POSTGRES_DB":       "eventstore",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := pgC.PortEndpoint(t.Context(), "5432/tcp", "")
	require.NoError(t, err)
	t.Logf("postgres endpoint: %s", endpoint)
	return fmt.Sprintf("postgres://eventstore:eventstore@%s/eventstore?sslmode=disable", endpoint)
}

// NewMySQLTestContainer starts a MySQL server for the duration of the test
// and returns its DSN.
func NewMySQLTestContainer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	myC, err := testcontainers.Run(
		t.Context(), "mysql:8.4",
		testcontainers.WithEnv(map[string]string{
			"MYSQL_ROOT_PASSWORD": "eventstore",
			"MYSQL_DATABASE":      "eventstore",
		}),
		testcontainers.WithExposedPorts("3306/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("3306/tcp"),
			wait.ForLog("ready for connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(myC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := myC.PortEndpoint(t.Context(), "3306/tcp", "")
	require.NoError(t, err)
	t.Logf("mysql endpoint: %s", endpoint)
	return fmt.Sprintf("root:eventstore@tcp(%s)/eventstore?parseTime=true", endpoint)
}
