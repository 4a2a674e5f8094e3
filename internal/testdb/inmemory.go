package testdb

import (
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/kuitang/thoughtflow/internal/db"
)

// TestDEK is the fixed key used for in-memory owner databases.
var TestDEK = []byte("0123456789abcdef0123456789abcdef")

// NewOwnerDBInMemory creates an in-memory encrypted OwnerDB for tests.
// ownerID doubles as the shared-cache name, so distinct ids are isolated.
func NewOwnerDBInMemory(ownerID string) (*db.OwnerDB, error) {
	if ownerID == "" {
		ownerID = "test-owner"
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
		ownerID, hex.EncodeToString(TestDEK))

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory owner database: %w", err)
	}

	// The database lives as long as one connection stays open.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory owner database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if _, err := sqlDB.Exec(db.OwnerDBSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory owner schema: %w", err)
	}

	return db.NewOwnerDBFromSQL(ownerID, sqlDB), nil
}

// NewAccountsDBInMemory creates an in-memory unencrypted AccountsDB for tests.
func NewAccountsDBInMemory() (*db.AccountsDB, error) {
	sqlDB, err := sql.Open(db.SQLiteDriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory accounts database: %w", err)
	}

	// Each :memory: connection is a separate database; pin to one.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping in-memory accounts database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if _, err := sqlDB.Exec(db.AccountsDBSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory accounts schema: %w", err)
	}

	return db.NewAccountsDBFromSQL(sqlDB), nil
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
