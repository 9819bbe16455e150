package app

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds process-level settings resolved from the environment. User
// preferences live in the database instead.
type Config struct {
	Location    *time.Location
	RedisURL    string
	RedisPrefix string
	DocstoreURL string
	User        string
}

func ConfigFromEnv() (Config, error) {
	loc := time.Local
	if tz := strings.TrimSpace(os.Getenv("BUDGETBELL_TZ")); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("load BUDGETBELL_TZ %q: %w", tz, err)
		}
		loc = l
	}
	return Config{
		Location:    loc,
		RedisURL:    strings.TrimSpace(os.Getenv("BUDGETBELL_REDIS_URL")),
		RedisPrefix: envOrDefault("BUDGETBELL_REDIS_PREFIX", "budgetbell"),
		DocstoreURL: strings.TrimSpace(os.Getenv("BUDGETBELL_DOCSTORE_URL")),
		User:        envOrDefault("BUDGETBELL_USER", envOrDefault("USER", "default")),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
