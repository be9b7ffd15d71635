// Package pgtest starts a disposable Postgres container with the settlement
// migrations applied. Tests using it need a Docker daemon and are kept behind
// the integration build tag.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/migrate"
)

const image = "postgres:16-alpine"

// Open boots a container, migrates it with goose, and returns a pooled
// client. The container is terminated on test cleanup.
func Open(t testing.TB) *db.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		image,
		tcpostgres.WithDatabase("shiftpay_test"),
		tcpostgres.WithUsername("shiftpay"),
		tcpostgres.WithPassword("shiftpay"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "postgres connection string")

	client, err := db.New(ctx, config.DBConfig{
		DSN:          dsn,
		Driver:       "postgres",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}, nil)
	require.NoError(t, err, "connect postgres")
	t.Cleanup(func() { _ = client.Close() })

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	require.NoError(t, migrate.Run(ctx, sqlDB, "", "up"), "apply migrations")

	return client
}
