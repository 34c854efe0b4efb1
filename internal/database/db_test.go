package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InMemory(t *testing.T) {
	db, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	// Applying twice is harmless.
	require.NoError(t, db.Migrate())

	var count int
	err = db.Conn().QueryRow(`SELECT COUNT(*) FROM invoice_items`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate_Columns(t *testing.T) {
	db, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	rows, err := db.Conn().Query(`SELECT name FROM pragma_table_info('invoice_items') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{
		"id", "payer", "period", "code", "amount", "paid", "tid", "source", "created_at", "paid_at",
	}, columns)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reconciler.db")

	db, err := New(Config{Path: path})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	assert.Equal(t, path, db.Path())
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestWithTransaction(t *testing.T) {
	db, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO invoice_items (payer, period, code, amount, created_at) VALUES ('a', 'p', 'q0000000000', '1', 0)`)
		return err
	}

	t.Run("commits on success", func(t *testing.T) {
		require.NoError(t, WithTransaction(db.Conn(), insert))
		assert.Equal(t, 1, countItems(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, countItems(t, db))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx))
			panic("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, countItems(t, db))
	})

	t.Run("nil connection", func(t *testing.T) {
		assert.Error(t, WithTransaction(nil, insert))
	})
}

func countItems(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM invoice_items`).Scan(&n))
	return n
}
