package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lachiem1/budgetbell/internal/keychain"
)

type Mode string

const (
	// ModeSecure encrypts the database with sqlcipher using a key kept in the
	// OS keyring.
	ModeSecure Mode = "secure"
	// ModePlain uses the pure Go driver without encryption.
	ModePlain Mode = "plain"
)

const schemaVersion = 3

var errSecureUnsupported = errors.New("secure mode requires a sqlcipher-enabled build; rebuild with '-tags sqlcipher' or set BUDGETBELL_DB_MODE=plain")

type Config struct {
	Mode Mode
	Path string
}

var (
	loadDBKey = keychain.LoadDBKey
	saveDBKey = keychain.SaveDBKey
)

func Open(ctx context.Context) (*sql.DB, Config, error) {
	cfg, err := configFromEnv()
	if err != nil {
		return nil, Config{}, err
	}
	db, err := OpenWithConfig(ctx, cfg)
	if err != nil {
		return nil, Config{}, err
	}
	return db, cfg, nil
}

// OpenWithConfig opens the database described by cfg and brings its schema up
// to date.
func OpenWithConfig(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Mode {
	case ModeSecure:
		db, err = openSecure(cfg.Path)
	case ModePlain:
		db, err = openPlainSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown db mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openSecure(path string) (*sql.DB, error) {
	if !secureSQLiteSupported() {
		return nil, errSecureUnsupported
	}

	key, fresh, err := ensureDBKey()
	if err != nil {
		return nil, fmt.Errorf("load db key: %w", err)
	}
	if !fresh {
		return openSecureSQLite(path, key)
	}

	// Files encrypted under a lost key are unreadable; start over.
	stale, err := dbFilesExist(path)
	if err != nil {
		return nil, err
	}
	if stale {
		if err := removeDBFiles(path); err != nil {
			return nil, fmt.Errorf("remove unreadable db: %w", err)
		}
	}
	return openSecureSQLite(path, key)
}

// Wipe deletes the database at the configured path, items, history and
// queued reminders included. The keyring entries are left to the caller.
func Wipe() (Config, error) {
	cfg, err := configFromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := removeDBFiles(cfg.Path); err != nil {
		return Config{}, fmt.Errorf("wipe %s: %w", cfg.Path, err)
	}
	return cfg, nil
}

func configFromEnv() (Config, error) {
	mode, err := modeFromEnv()
	if err != nil {
		return Config{}, err
	}

	if dbPath := strings.TrimSpace(os.Getenv("BUDGETBELL_DB_PATH")); dbPath != "" {
		return Config{Mode: mode, Path: dbPath}, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve user config directory: %w", err)
	}
	return Config{
		Mode: mode,
		Path: filepath.Join(configDir, "budgetbell", "budgetbell.db"),
	}, nil
}

func modeFromEnv() (Mode, error) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("BUDGETBELL_DB_MODE")))
	switch raw {
	case "":
		if secureSQLiteSupported() {
			return ModeSecure, nil
		}
		return ModePlain, nil
	case string(ModeSecure):
		return ModeSecure, nil
	case string(ModePlain):
		return ModePlain, nil
	default:
		return "", fmt.Errorf("BUDGETBELL_DB_MODE must be %q or %q, got %q", ModeSecure, ModePlain, raw)
	}
}

// ensureDBKey returns the keyring database key, minting one on first use.
// fresh reports that any existing database file predates the key.
func ensureDBKey() (key string, fresh bool, err error) {
	switch key, err = loadDBKey(); {
	case err == nil && strings.TrimSpace(key) != "":
		return key, false, nil
	case err != nil && !errors.Is(err, keychain.ErrNotFound):
		return "", false, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", false, fmt.Errorf("generate db key: %w", err)
	}
	key = base64.RawStdEncoding.EncodeToString(raw)
	if err := saveDBKey(key); err != nil {
		return "", false, err
	}
	return key, true, nil
}

// dbFiles lists the database file and its journal sidecars.
func dbFiles(path string) []string {
	return []string{path, path + "-wal", path + "-shm"}
}

func dbFilesExist(path string) (bool, error) {
	for _, p := range dbFiles(path) {
		switch _, err := os.Stat(p); {
		case err == nil:
			return true, nil
		case !errors.Is(err, os.ErrNotExist):
			return false, fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return false, nil
}

func removeDBFiles(path string) error {
	var errs []error
	for _, p := range dbFiles(path) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
