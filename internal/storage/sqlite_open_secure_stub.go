//go:build !sqlcipher
// +build !sqlcipher

package storage

import "database/sql"

func openSecureSQLite(string, string) (*sql.DB, error) {
	return nil, errSecureUnsupported
}

func secureSQLiteSupported() bool {
	return false
}
