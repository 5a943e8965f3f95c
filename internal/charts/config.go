// Package charts provides the remote top-charts API client.
package charts

import (
	"errors"
	"os"
)

// ErrMissingBaseURL is returned when CHARTS_BASE_URL is not set.
var ErrMissingBaseURL = errors.New("missing CHARTS_BASE_URL environment variable")

// Config holds chart API configuration. Client credentials are optional; when
// present the client authenticates with OAuth2 client-credentials.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// LoadConfig reads chart API configuration from environment variables.
// Returns ErrMissingBaseURL if CHARTS_BASE_URL is not set.
func LoadConfig() (*Config, error) {
	baseURL := os.Getenv("CHARTS_BASE_URL")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	return &Config{
		BaseURL:      baseURL,
		ClientID:     os.Getenv("CHARTS_CLIENT_ID"),
		ClientSecret: os.Getenv("CHARTS_CLIENT_SECRET"),
		TokenURL:     os.Getenv("CHARTS_TOKEN_URL"),
	}, nil
}
