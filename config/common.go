package config

import (
	"fmt"
	"net/url"
)

const (
	EnvPrefix = "WSMUX_"
)

// ValidateServerURL validates that the relay URL is an absolute ws:// or
// wss:// URL with a host.
func ValidateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("server_url must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server_url %q: %w", raw, err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server_url %q has no host", raw)
	}
	return nil
}
