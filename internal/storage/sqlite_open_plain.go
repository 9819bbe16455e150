package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

func openPlainSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := prepareDB(db, path); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// prepareDB creates the file by pinging the db and limits it to the current
// user. SQLite allows one writer, so the pool is capped at one connection.
func prepareDB(db *sql.DB, path string) error {
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return fmt.Errorf("open db %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("set db permissions: %w", err)
	}
	return nil
}
