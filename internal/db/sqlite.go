// Package db implements the SQLite account store: accounts, public
// profiles and character save slots.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Applied by the driver to every connection it opens.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// sqliteDB is a SQLite handle limited to a single pooled connection.
// database/sql hands that connection to one caller at a time, so reads,
// writes and transactions are serialized without a lock of our own.
type sqliteDB struct {
	db *sql.DB
}

func sqliteDSN(path string) string {
	params := make([]string, 0, len(sqlitePragmas))
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	return path + "?" + strings.Join(params, "&")
}

// openSQLite opens or creates the database file at path.
func openSQLite(path string) (*sqliteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("path", path).Msg("account database opened")
	return &sqliteDB{db: db}, nil
}

func (s *sqliteDB) close() error {
	return s.db.Close()
}

func (s *sqliteDB) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.db.Exec(query, args...)
}

func (s *sqliteDB) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(query, args...)
}

func (s *sqliteDB) queryRow(query string, args ...interface{}) *sql.Row {
	return s.db.QueryRow(query, args...)
}

// transaction runs fn in a transaction. fn must only use tx: the pool's
// single connection is held until it returns.
func (s *sqliteDB) transaction(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
