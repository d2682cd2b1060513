package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// settings holds the mutable runtime state that survives restarts but does
// not belong in config.yaml: the current gateway token (rotated by the
// addon) and the user-selected active model.
type settings struct {
	GatewayToken string `json:"gateway_token,omitempty"`
	ActiveModel  string `json:"active_model,omitempty"`
}

// SettingsStore persists runtime settings to a JSON file next to the
// database. All methods are safe for concurrent use.
type SettingsStore struct {
	mu   sync.Mutex
	path string
	data settings
}

// OpenSettings loads the settings file, creating an empty store when the
// file does not exist yet.
func OpenSettings(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	return s, nil
}

// GatewayToken returns the persisted gateway token, or empty.
func (s *SettingsStore) GatewayToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.GatewayToken
}

// SetGatewayToken persists a rotated gateway token.
func (s *SettingsStore) SetGatewayToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.GatewayToken = token
	return s.save()
}

// ActiveModel returns the user-selected model, or empty for the gateway
// default.
func (s *SettingsStore) ActiveModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ActiveModel
}

// SetActiveModel persists the selected model.
func (s *SettingsStore) SetActiveModel(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ActiveModel = model
	return s.save()
}

// save writes the settings atomically: temp file then rename, so a crash
// mid-write never leaves a truncated file. Caller holds s.mu.
func (s *SettingsStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}
