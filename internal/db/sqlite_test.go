package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitafit/config"
	"vitafit/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	s, err := NewSQLiteDB(filepath.Join(t.TempDir(), "vitafit.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteDB_Contract(t *testing.T) {
	runStoreContract(t, newTestSQLite(t))
}

func TestSQLiteDB_MemoriesRequireUser(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	err := s.AddMemory(ctx, &models.Memory{UserID: "ghost", Content: "x"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	store, err := Open(context.Background(), config.DBConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "open.db"),
	})
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &SQLiteDB{}, store)
	assert.NoError(t, store.Migrate(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DBConfig{Driver: "mysql"})
	assert.Error(t, err)
}
