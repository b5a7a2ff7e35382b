// Package database holds the integration harness for the postgres store.
// Tests run against a shared PostgreSQL testcontainer, or against an external
// database when CI_DATABASE_URL is set. Without Docker the tests skip.
package database

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/foresight-labs/foresight/pkg/store"
	"github.com/foresight-labs/foresight/pkg/store/postgres"
)

var (
	connOnce sync.Once
	connStr  string
	connErr  error
)

// SetupStore connects a fully migrated postgres store for one test. The
// backing container is shared per package; tests isolate through
// per-test identifiers, not separate databases.
func SetupStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	connOnce.Do(func() {
		if url := os.Getenv("CI_DATABASE_URL"); url != "" {
			connStr = url
			return
		}
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("foresight_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			connErr = err
			return
		}
		connStr, connErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if connErr != nil {
		t.Skipf("postgres unavailable, skipping integration tests: %v", connErr)
	}

	client, err := postgres.Connect(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client.Store()
}
