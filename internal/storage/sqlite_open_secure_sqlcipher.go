//go:build sqlcipher
// +build sqlcipher

package storage

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

func openSecureSQLite(path string, key string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma_key=%s&_pragma_cipher_page_size=4096&_pragma_kdf_iter=256000&_busy_timeout=5000&_foreign_keys=1",
		url.PathEscape(path),
		url.QueryEscape(key),
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlcipher db: %w", err)
	}
	if err := prepareDB(db, path); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func secureSQLiteSupported() bool {
	return true
}
