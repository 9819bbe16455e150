package keychain

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	defaultService = "budgetbell"
	dbKeyAccount   = "db_key"
	tokenAccount   = "docstore_token"
)

// ErrNotFound is returned when no secret is stored under the account.
var ErrNotFound = errors.New("keychain item not found")

var (
	keyringGet    = keyring.Get
	keyringSet    = keyring.Set
	keyringDelete = keyring.Delete
)

// LoadDBKey returns the database encryption key.
func LoadDBKey() (string, error) {
	return load(dbKeyAccount)
}

func SaveDBKey(key string) error {
	return save(dbKeyAccount, key)
}

// LoadDocstoreToken returns the bearer token for the document mirror.
//
// Order of precedence:
// 1) BUDGETBELL_DOCSTORE_TOKEN environment variable.
// 2) Keyring item for the configured service.
func LoadDocstoreToken() (string, error) {
	if token := strings.TrimSpace(os.Getenv("BUDGETBELL_DOCSTORE_TOKEN")); token != "" {
		return token, nil
	}
	return load(tokenAccount)
}

func SaveDocstoreToken(token string) error {
	return save(tokenAccount, token)
}

// Forget removes every secret budgetbell stored. Missing items are ignored.
func Forget() error {
	service := Service()
	var errs []error
	for _, account := range []string{dbKeyAccount, tokenAccount} {
		if err := keyringDelete(service, account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete keyring item service=%q account=%q: %w", service, account, err))
		}
	}
	return errors.Join(errs...)
}

// Service is the keyring service name, overridable for tests and multiple
// profiles.
func Service() string {
	return envOrDefault("BUDGETBELL_KEYCHAIN_SERVICE", defaultService)
}

func load(account string) (string, error) {
	service := Service()
	secret, err := keyringGet(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("keyring item service=%q account=%q: %w", service, account, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read keyring item service=%q account=%q: %w", service, account, err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("keyring item service=%q account=%q is empty: %w", service, account, ErrNotFound)
	}
	return secret, nil
}

func save(account, secret string) error {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return fmt.Errorf("%s cannot be empty", account)
	}
	service := Service()
	if err := keyringSet(service, account, trimmed); err != nil {
		return fmt.Errorf("failed to store keyring item service=%q account=%q: %w", service, account, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
