// Package provider wraps the open-banking provider's OAuth token endpoint
// and its read-only data API.
package provider

import (
	"fmt"
	"os"
	"strings"
)

// DefaultBaseURL points at the provider's sandbox environment.
const DefaultBaseURL = "https://testapi.openbanking.or.kr"

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string
}

// ConfigFromEnv reads the provider credentials. Every required value that is
// absent is reported in a single error so a misconfigured deployment fails
// fast with the full list.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		ClientID:     strings.TrimSpace(os.Getenv("KFTC_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("KFTC_CLIENT_SECRET")),
		RedirectURI:  strings.TrimSpace(os.Getenv("KFTC_REDIRECT_URI")),
		BaseURL:      strings.TrimSpace(os.Getenv("KFTC_BASE_URL")),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "KFTC_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "KFTC_CLIENT_SECRET")
	}
	if cfg.RedirectURI == "" {
		missing = append(missing, "KFTC_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}
