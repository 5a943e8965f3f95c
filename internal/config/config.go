// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// DefaultAddr is the default listen address.
const DefaultAddr = "127.0.0.1:8080"

// ErrMissingDatabaseURL is returned when DATABASE_URL is not set.
var ErrMissingDatabaseURL = errors.New("missing DATABASE_URL environment variable")

// Config holds the service-level settings. Chart API settings live in the
// charts package.
type Config struct {
	Addr        string
	DatabaseURL string
}

// Load reads configuration from a .env file (when present) and the
// environment. Environment variables win over the file.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment alone may be complete.
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = DefaultAddr
	}

	return &Config{
		Addr:        addr,
		DatabaseURL: databaseURL,
	}, nil
}
