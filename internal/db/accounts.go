package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrAccountExists is returned when creating a name that is already taken.
var ErrAccountExists = errors.New("account already exists")

// ErrSlotTaken is returned when creating a character in an occupied slot.
var ErrSlotTaken = errors.New("save slot already in use")

// Account is a registered lobby account.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`

	passwordHash []byte
}

// SaveSlot is one character save of an account.
type SaveSlot struct {
	Slot       uint32    `json:"slot"`
	TemplateID uint32    `json:"template_id"`
	Name       string    `json:"name"`
	Size       int       `json:"size"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AccountsDatabase stores accounts, profiles and save slots.
type AccountsDatabase struct {
	db         *sqliteDB
	bcryptCost int
}

// NewAccountsDatabase opens the account store at dbPath and migrates it.
func NewAccountsDatabase(dbPath string, bcryptCost int) (*AccountsDatabase, error) {
	database, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	adb := &AccountsDatabase{db: database, bcryptCost: bcryptCost}

	if err := adb.migrate(); err != nil {
		database.close()
		return nil, fmt.Errorf("failed to migrate accounts database: %w", err)
	}

	return adb, nil
}

// migrate creates the database schema.
func (adb *AccountsDatabase) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			last_login DATETIME
		);

		CREATE TABLE IF NOT EXISTS profiles (
			account_id INTEGER PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS save_slots (
			account_id INTEGER NOT NULL,
			slot INTEGER NOT NULL,
			template_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			data BLOB,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, slot),
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);
	`

	_, err := adb.db.exec(schema)
	return err
}

// Close closes the underlying database.
func (adb *AccountsDatabase) Close() error {
	return adb.db.close()
}

// FindAccountByName looks up an account case-insensitively. It returns
// nil without error when no account matches.
func (adb *AccountsDatabase) FindAccountByName(name string) (*Account, error) {
	row := adb.db.queryRow(
		"SELECT id, name, password_hash, created_at, last_login FROM accounts WHERE name = ?",
		strings.TrimSpace(name),
	)
	return scanAccount(row)
}

// FindAccountByID looks up an account by id.
func (adb *AccountsDatabase) FindAccountByID(id int64) (*Account, error) {
	row := adb.db.queryRow(
		"SELECT id, name, password_hash, created_at, last_login FROM accounts WHERE id = ?", id,
	)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var acc Account
	var lastLogin sql.NullTime
	err := row.Scan(&acc.ID, &acc.Name, &acc.passwordHash, &acc.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if lastLogin.Valid {
		acc.LastLogin = lastLogin.Time
	}
	return &acc, nil
}

// CreateAccount registers name with a bcrypt hash of password.
func (adb *AccountsDatabase) CreateAccount(name, password string) (*Account, error) {
	name = strings.TrimSpace(name)

	existing, err := adb.FindAccountByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), adb.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	result, err := adb.db.exec(
		"INSERT INTO accounts (name, password_hash, created_at) VALUES (?, ?, ?)",
		name, hash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", name, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new account id: %w", err)
	}

	log.Info().Str("account", name).Int64("id", id).Msg("account created")

	return &Account{ID: id, Name: name, CreatedAt: now, passwordHash: hash}, nil
}

// CheckPassword reports whether password matches the account's hash.
func (adb *AccountsDatabase) CheckPassword(acc *Account, password string) bool {
	if acc == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) == nil
}

// TouchLogin records a successful login.
func (adb *AccountsDatabase) TouchLogin(id int64) error {
	_, err := adb.db.exec("UPDATE accounts SET last_login = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

// CountAccounts returns the number of registered accounts.
func (adb *AccountsDatabase) CountAccounts() (int, error) {
	var n int
	err := adb.db.queryRow("SELECT COUNT(*) FROM accounts").Scan(&n)
	return n, err
}

// GetProfile returns the stored profile block, or nil when none exists.
func (adb *AccountsDatabase) GetProfile(id int64) ([]byte, error) {
	var data []byte
	err := adb.db.queryRow("SELECT data FROM profiles WHERE account_id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return data, nil
}

// SetProfile stores the profile block of an account.
func (adb *AccountsDatabase) SetProfile(id int64, data []byte) error {
	_, err := adb.db.exec(`
		INSERT INTO profiles (account_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// GetSaveSlot returns the save data of a slot. ok is false when the slot
// has never been created.
func (adb *AccountsDatabase) GetSaveSlot(id int64, slot uint32) (data []byte, ok bool, err error) {
	err = adb.db.queryRow(
		"SELECT data FROM save_slots WHERE account_id = ? AND slot = ?", id, slot,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read save slot: %w", err)
	}
	return data, true, nil
}

// SetSaveSlot stores save data, creating the slot when needed.
func (adb *AccountsDatabase) SetSaveSlot(id int64, slot uint32, data []byte) error {
	_, err := adb.db.exec(`
		INSERT INTO save_slots (account_id, slot, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		id, slot, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store save slot: %w", err)
	}
	return nil
}

// InitSaveSlot creates an empty character in slot.
func (adb *AccountsDatabase) InitSaveSlot(id int64, slot, templateID uint32, name string) error {
	return adb.db.transaction(func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRow(
			"SELECT COUNT(*) FROM save_slots WHERE account_id = ? AND slot = ?", id, slot,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrSlotTaken
		}
		_, err = tx.Exec(
			"INSERT INTO save_slots (account_id, slot, template_id, name, updated_at) VALUES (?, ?, ?, ?, ?)",
			id, slot, templateID, name, time.Now().UTC(),
		)
		return err
	})
}

// ListSaveSlots returns the slots of an account ordered by slot number.
func (adb *AccountsDatabase) ListSaveSlots(id int64) ([]SaveSlot, error) {
	rows, err := adb.db.query(
		"SELECT slot, template_id, name, COALESCE(LENGTH(data), 0), updated_at FROM save_slots WHERE account_id = ? ORDER BY slot",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list save slots: %w", err)
	}
	defer rows.Close()

	var slots []SaveSlot
	for rows.Next() {
		var s SaveSlot
		if err := rows.Scan(&s.Slot, &s.TemplateID, &s.Name, &s.Size, &s.UpdatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
