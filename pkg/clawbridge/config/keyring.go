// Keyring-backed storage for the gateway token (Linux: Secret
// Service/GNOME Keyring, macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving the token:
//  1. config.yaml value (when not an env reference)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. OPENCLAW_GATEWAY_TOKEN environment variable / .env file
package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "clawbridge"

	// keyringGatewayToken is the key name for the gateway bearer token.
	keyringGatewayToken = "gateway_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__clawbridge_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// MigrateTokenToKeyring moves the gateway token from config/env to the OS
// keyring so it no longer needs to live on disk in plaintext.
func MigrateTokenToKeyring(token string, logger *slog.Logger) error {
	if err := StoreKeyring(keyringGatewayToken, token); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("gateway token stored in OS keyring",
		"service", keyringService,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
