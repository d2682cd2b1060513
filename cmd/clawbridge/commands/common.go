package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
)

// resolveConfig loads config from the --config flag or standard locations.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return nil, "", fmt.Errorf("no configuration file found — run `clawbridge setup` first")
}

// newLogger builds the slog logger per config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	switch {
	case verbose || cfg.Logging.Level == "debug":
		logLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		logLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// settingsPath puts settings.json next to the database (or under ./data
// when persistence is disabled).
func settingsPath(cfg *config.Config) string {
	if cfg.History.DBPath != "" {
		return filepath.Join(filepath.Dir(cfg.History.DBPath), "settings.json")
	}
	return filepath.Join("data", "settings.json")
}

// newGatewayClient builds the gateway client, preferring a rotated token
// from the settings store over the config value.
func newGatewayClient(cfg *config.Config, settings *config.SettingsStore, logger *slog.Logger) *gateway.Client {
	token := cfg.Gateway.Token
	if settings != nil {
		if rotated := settings.GatewayToken(); rotated != "" {
			token = rotated
		}
	}
	return gateway.NewClient(gateway.ClientConfig{
		Host:      cfg.Gateway.Host,
		Port:      cfg.Gateway.Port,
		UseTLS:    cfg.Gateway.UseTLS,
		VerifyTLS: cfg.Gateway.VerifyTLS,
		Token:     token,
		AgentID:   cfg.Gateway.AgentID,
	}, logger)
}
