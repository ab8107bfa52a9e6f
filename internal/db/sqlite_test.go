package db

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAppliesPragmas(t *testing.T) {
	s, err := openSQLite(filepath.Join(t.TempDir(), "nested", "lobby.db"))
	require.NoError(t, err)
	defer s.close()

	var fk int
	require.NoError(t, s.queryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, s.queryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestTransactionRollsBack(t *testing.T) {
	s, err := openSQLite(filepath.Join(t.TempDir(), "lobby.db"))
	require.NoError(t, err)
	defer s.close()

	_, err = s.exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, s.queryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Zero(t, n)
}

func TestConcurrentAccountAccess(t *testing.T) {
	store := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		name := fmt.Sprintf("Player%02d", i)
		go func() {
			defer wg.Done()
			acc, err := store.CreateAccount(name, "pw")
			if err == nil {
				err = store.InitSaveSlot(acc.ID, 0, 1, "Seraphim")
			}
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := store.CountAccounts()
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	n, err := store.CountAccounts()
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}
