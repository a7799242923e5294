//go:build integration

package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"checkline/internal/db"
	"checkline/internal/migrate"
)

func TestRepoSuitePostgres(t *testing.T) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("checkline"),
		tcpostgres.WithUsername("checkline"),
		tcpostgres.WithPassword("checkline"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	open := func() (*sql.DB, db.Dialect) {
		conn, dialect, err := db.Open(db.Config{Driver: "postgres", DSN: dsn})
		require.NoError(t, err)
		require.Equal(t, db.Postgres, dialect)
		require.NoError(t, migrate.Migrate(ctx, conn, dialect))
		_, err = conn.ExecContext(ctx, `TRUNCATE events, responses, checklists, api_keys, delivery_plan_products, products, actors RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return conn, dialect
	}
	suite.Run(t, &RepoSuite{open: open})
}
