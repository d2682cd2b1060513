package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
)

// newHealthCmd creates the `clawbridge health` command. Used by Docker
// HEALTHCHECK and monitoring: exits non-zero when the gateway is down.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway reachability and chat API readiness",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	settings, err := config.OpenSettings(settingsPath(cfg))
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	client := newGatewayClient(cfg, settings, logger)

	report := struct {
		Gateway  string `json:"gateway"`
		Alive    bool   `json:"alive"`
		APIReady bool   `json:"api_ready"`
		Error    string `json:"error,omitempty"`
	}{Gateway: client.BaseURL()}

	alive, err := client.CheckAlive(cmd.Context())
	report.Alive = alive
	if err != nil {
		report.Error = err.Error()
	} else if alive {
		ready, err := client.CheckAPIReady(cmd.Context())
		report.APIReady = ready
		if err != nil {
			report.Error = err.Error()
		}
	}

	out, _ := json.Marshal(report)
	fmt.Println(string(out))

	if !report.Alive || !report.APIReady {
		os.Exit(1)
	}
	return nil
}
