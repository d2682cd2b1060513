// Package credentials re-reads the gateway auth token from the OpenClaw
// config file when the gateway rejects the current one. The addon may
// regenerate the token on restart; re-reading it from the shared
// filesystem lets the bridge recover without a restart of its own.
package credentials

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// ConfigRelPath is the token file location under the OpenClaw config root.
const ConfigRelPath = ".openclaw/openclaw.json"

// TokenUpdater hot-swaps a token into a live gateway client.
type TokenUpdater interface {
	UpdateToken(token string)
}

// SettingsStore persists the configured token so the new value survives a
// bridge restart.
type SettingsStore interface {
	GatewayToken() string
	SetGatewayToken(token string) error
}

// Refresher re-reads the gateway token from disk and hot-swaps it.
type Refresher struct {
	root   string
	store  SettingsStore
	client TokenUpdater
	logger *slog.Logger
}

// NewRefresher creates a refresher reading from root/ConfigRelPath.
func NewRefresher(root string, store SettingsStore, client TokenUpdater, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		root:   root,
		store:  store,
		client: client,
		logger: logger.With("component", "credentials"),
	}
}

// Refresh re-reads the token and reports whether it changed. A missing
// file, malformed JSON, or missing nested keys mean "no token found" and
// return (false, nil) — refresh failures must never break a poll tick.
func (r *Refresher) Refresh(_ context.Context) (bool, error) {
	token := r.readToken()
	if token == "" {
		r.logger.Debug("no token found in OpenClaw config", "root", r.root)
		return false, nil
	}
	if token == r.store.GatewayToken() {
		return false, nil
	}

	r.logger.Info("gateway token changed — updating settings and client")
	if err := r.store.SetGatewayToken(token); err != nil {
		return false, err
	}
	r.client.UpdateToken(token)
	return true, nil
}

// readToken extracts gateway.auth.token from the config file, tolerating
// any read or shape problem.
func (r *Refresher) readToken() string {
	data, err := os.ReadFile(filepath.Join(r.root, ConfigRelPath))
	if err != nil {
		return ""
	}

	var cfg struct {
		Gateway struct {
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		} `json:"gateway"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return cfg.Gateway.Auth.Token
}
