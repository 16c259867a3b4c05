// Package pgtest starts a throwaway Postgres for integration tests.
package pgtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv reuses an existing database instead of starting a container.
const DSNEnv = "PREGAO_TEST_PG_DSN"

var (
	once     sync.Once
	shared   string
	startErr error
)

// DSN returns a connection string for a Postgres 16 instance shared by every
// test of the package. The container is reaped by testcontainers when the test
// binary exits. The test is skipped under -short or when neither DSNEnv nor
// Docker is available.
func DSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in -short mode")
	}
	if dsn := os.Getenv(DSNEnv); dsn != "" {
		return dsn
	}

	once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		pgC, err := postgres.Run(ctx,
			"postgres:16",
			postgres.WithDatabase("pregao"),
			postgres.WithUsername("pregao"),
			postgres.WithPassword("pregao"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			startErr = err
			return
		}
		shared, startErr = pgC.ConnectionString(ctx, "sslmode=disable")
	})
	if startErr != nil {
		t.Skipf("postgres container unavailable: %v", startErr)
	}
	return shared
}
