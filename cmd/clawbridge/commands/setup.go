package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
)

// newSetupCmd creates the `clawbridge setup` command: an interactive form
// that writes the initial config.yaml.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration",
		Long: `Walk through gateway connection settings and write config.yaml.
The gateway token goes to the OS keyring when one is available, keeping it
out of the config file.`,
		RunE: runSetup,
	}

	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the configuration")
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	host := cfg.Gateway.Host
	port := strconv.Itoa(cfg.Gateway.Port)
	useTLS := cfg.Gateway.UseTLS
	verifyTLS := cfg.Gateway.VerifyTLS
	token := ""
	agentID := cfg.Gateway.AgentID
	instructions := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway host").
				Description("Hostname or IP of the OpenClaw gateway").
				Value(&host),
			huh.NewInput().
				Title("Gateway port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Use HTTPS?").
				Value(&useTLS),
			huh.NewConfirm().
				Title("Verify TLS certificates?").
				Description("Disable for self-signed certificates on the LAN").
				Value(&verifyTLS),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway token").
				Description("Bearer token from the OpenClaw addon (leave empty to configure later)").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewInput().
				Title("Agent id").
				Value(&agentID),
			huh.NewText().
				Title("Assistant instructions").
				Description("Static system prompt prefix (optional)").
				Value(&instructions),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}

	cfg.Gateway.Host = host
	cfg.Gateway.Port, _ = strconv.Atoi(port)
	cfg.Gateway.UseTLS = useTLS
	cfg.Gateway.VerifyTLS = verifyTLS
	cfg.Gateway.AgentID = agentID
	cfg.Instructions = instructions

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if token != "" {
		if config.KeyringAvailable() {
			if err := config.MigrateTokenToKeyring(token, logger); err != nil {
				fmt.Printf("keyring unavailable (%v), storing token in config file\n", err)
				cfg.Gateway.Token = token
			}
		} else {
			cfg.Gateway.Token = token
		}
	}

	output, _ := cmd.Flags().GetString("output")
	if err := config.SaveConfigToFile(cfg, output); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("configuration written to %s\n", output)
	fmt.Println("run `clawbridge health` to verify the gateway connection, then `clawbridge serve`")
	return nil
}
