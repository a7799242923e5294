package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `UPDATE checklists SET notes=? WHERE id=? AND version=?`
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, `UPDATE checklists SET notes=$1 WHERE id=$2 AND version=$3`, Postgres.Rebind(q))
	assert.Equal(t, `SELECT 1`, Postgres.Rebind(`SELECT 1`))
}

func TestConfigDialect(t *testing.T) {
	for driver, want := range map[string]Dialect{"": SQLite, "sqlite": SQLite, "Postgres": Postgres, "pgx": Postgres} {
		got, err := Config{Driver: driver}.Dialect()
		require.NoError(t, err)
		assert.Equal(t, want, got, driver)
	}
	_, err := Config{Driver: "mysql"}.Dialect()
	assert.Error(t, err)
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	ws := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, SQLite, dialect)
	require.NoError(t, conn.Ping())
	assert.FileExists(t, filepath.Join(ws, ".checkline", "checkline.db"))
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, _, err := Open(Config{Driver: "postgres"})
	assert.Error(t, err)
}
