package db

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	// DefaultDataDirectory is the default root directory for all database files
	DefaultDataDirectory = "./data"

	// AccountsDBName is the filename for the shared accounts database
	AccountsDBName = "accounts.db"

	// MaxOpenConns for the accounts database. SQLite is single-writer, so
	// high connection counts are counterproductive.
	MaxOpenConns = 10

	// MaxIdleConns is the maximum number of idle connections for the accounts database
	MaxIdleConns = 2

	// OwnerDBMaxOpenConns is the maximum open connections per owner database.
	OwnerDBMaxOpenConns = 2

	// OwnerDBMaxIdleConns is the maximum idle connections per owner database
	OwnerDBMaxIdleConns = 1
)

// DataDirectory is the directory in use; tests and cmd/server override it.
var DataDirectory = DefaultDataDirectory

var (
	accountsDB     *sql.DB
	accountsDBOnce sync.Once
	accountsDBErr  error

	ownerDBs   = make(map[string]*sql.DB)
	ownerDBsMu sync.RWMutex
)

// Owner ids become file names, so they are restricted to a safe alphabet.
var ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidOwnerID reports whether id can name an owner database.
func ValidOwnerID(id string) bool {
	return ownerIDPattern.MatchString(id)
}

// AccountsDB wraps the shared accounts database.
type AccountsDB struct {
	db *sql.DB
}

// OwnerDB wraps one owner's encrypted database.
type OwnerDB struct {
	db      *sql.DB
	ownerID string
}

// NewAccountsDBFromSQL wraps an existing sql.DB as AccountsDB.
func NewAccountsDBFromSQL(sqlDB *sql.DB) *AccountsDB {
	return &AccountsDB{db: sqlDB}
}

// NewOwnerDBFromSQL wraps an existing sql.DB as OwnerDB.
func NewOwnerDBFromSQL(ownerID string, sqlDB *sql.DB) *OwnerDB {
	return &OwnerDB{db: sqlDB, ownerID: ownerID}
}

// DB returns the underlying sql.DB for direct access when needed
func (a *AccountsDB) DB() *sql.DB {
	return a.db
}

// DB returns the underlying sql.DB for direct access when needed
func (o *OwnerDB) DB() *sql.DB {
	return o.db
}

// OwnerID returns the owner this database belongs to.
func (o *OwnerDB) OwnerID() string {
	return o.ownerID
}

// OpenAccountsDB opens the shared accounts database (unencrypted). The
// connection is cached and reused across calls.
func OpenAccountsDB() (*AccountsDB, error) {
	accountsDBOnce.Do(func() {
		if err := os.MkdirAll(DataDirectory, 0750); err != nil {
			accountsDBErr = fmt.Errorf("failed to create data directory: %w", err)
			return
		}

		dsn := appendSQLiteParams(filepath.Join(DataDirectory, AccountsDBName), sqliteCommonParams())
		sqlDB, err := sql.Open(SQLiteDriverName, dsn)
		if err != nil {
			accountsDBErr = fmt.Errorf("failed to open accounts database: %w", err)
			return
		}
		sqlDB.SetMaxOpenConns(MaxOpenConns)
		sqlDB.SetMaxIdleConns(MaxIdleConns)

		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			accountsDBErr = fmt.Errorf("failed to ping accounts database: %w", err)
			return
		}
		if _, err := sqlDB.Exec(AccountsDBSchema); err != nil {
			sqlDB.Close()
			accountsDBErr = fmt.Errorf("failed to initialize accounts schema: %w", err)
			return
		}
		accountsDB = sqlDB
	})

	if accountsDBErr != nil {
		return nil, accountsDBErr
	}
	return NewAccountsDBFromSQL(accountsDB), nil
}

// OpenOwnerDBWithDEK opens (or returns the cached) encrypted database for
// ownerID, keyed with the 32-byte DEK from the KeyManager.
func OpenOwnerDBWithDEK(ownerID string, dek []byte) (*OwnerDB, error) {
	if !ValidOwnerID(ownerID) {
		return nil, fmt.Errorf("invalid owner id %q", ownerID)
	}
	if len(dek) != 32 {
		return nil, fmt.Errorf("DEK must be exactly 32 bytes, got %d", len(dek))
	}

	ownerDBsMu.RLock()
	if sqlDB, exists := ownerDBs[ownerID]; exists {
		ownerDBsMu.RUnlock()
		return NewOwnerDBFromSQL(ownerID, sqlDB), nil
	}
	ownerDBsMu.RUnlock()

	ownerDBsMu.Lock()
	defer ownerDBsMu.Unlock()

	// Double-check after acquiring write lock
	if sqlDB, exists := ownerDBs[ownerID]; exists {
		return NewOwnerDBFromSQL(ownerID, sqlDB), nil
	}

	if err := os.MkdirAll(DataDirectory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(DataDirectory, ownerID+".db")
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(dek))
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open owner database for %s: %w", ownerID, err)
	}
	sqlDB.SetMaxOpenConns(OwnerDBMaxOpenConns)
	sqlDB.SetMaxIdleConns(OwnerDBMaxIdleConns)

	// A wrong key only surfaces on the first real read.
	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify owner database for %s: %w", ownerID, err)
	}
	if _, err := sqlDB.Exec(OwnerDBSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize owner schema for %s: %w", ownerID, err)
	}

	ownerDBs[ownerID] = sqlDB
	return NewOwnerDBFromSQL(ownerID, sqlDB), nil
}

// CloseAll closes all open database connections. Call during graceful shutdown.
func CloseAll() error {
	var firstErr error

	if accountsDB != nil {
		if err := accountsDB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close accounts database: %w", err)
		}
		accountsDB = nil
	}

	ownerDBsMu.Lock()
	defer ownerDBsMu.Unlock()
	for ownerID, sqlDB := range ownerDBs {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close owner database for %s: %w", ownerID, err)
		}
	}
	ownerDBs = make(map[string]*sql.DB)

	return firstErr
}

// ResetForTesting closes everything and resets the accounts singleton.
func ResetForTesting() {
	_ = CloseAll()
	accountsDBOnce = sync.Once{}
	accountsDB = nil
	accountsDBErr = nil
}

func sqliteCommonParams() string {
	// WAL + NORMAL gives good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Close closes the AccountsDB connection.
func (a *AccountsDB) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Close closes the OwnerDB connection. Only needed for in-memory databases
// that are not cached by the package.
func (o *OwnerDB) Close() error {
	if o.db != nil {
		return o.db.Close()
	}
	return nil
}
