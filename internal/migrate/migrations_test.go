package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/db"
)

func TestMigrationsAreNumberedPerDialect(t *testing.T) {
	for _, d := range []db.Dialect{db.SQLite, db.Postgres} {
		ms, err := loadMigrations(d)
		require.NoError(t, err)
		require.NotEmpty(t, ms)
		for i, m := range ms {
			assert.Equal(t, i+1, m.Version, "%s %s", d, m.Name)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn, dialect))
	require.NoError(t, Migrate(ctx, conn, dialect))

	v, err := CurrentVersion(ctx, conn)
	require.NoError(t, err)
	ms, _ := loadMigrations(dialect)
	assert.Equal(t, ms[len(ms)-1].Version, v)

	for _, table := range []string{"checklists", "responses", "events", "products", "delivery_plan_products", "actors", "api_keys"} {
		var n int
		err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestChecklistAttachmentCheckConstraint(t *testing.T) {
	ctx := context.Background()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(ctx, conn, dialect))

	_, err = conn.ExecContext(ctx, `INSERT INTO checklists(id,product_id,delivery_plan_product_id,created_by,created_at,updated_at) VALUES ('c1','p1','d1','a','t','t')`)
	assert.Error(t, err)
}
