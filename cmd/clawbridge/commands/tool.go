package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
)

// newToolCmd creates the `clawbridge tool` command.
func newToolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool <name>",
		Short: "Invoke a gateway tool",
		Long: `Invoke one OpenClaw tool through the gateway and print the JSON
result.

Examples:
  clawbridge tool sessions --action list
  clawbridge tool lights --action set --arg room=kitchen --arg state=on
  clawbridge tool reboot --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: runTool,
	}

	cmd.Flags().String("action", "", "tool action")
	cmd.Flags().StringArray("arg", nil, "tool argument as key=value (repeatable)")
	cmd.Flags().String("args-json", "", "tool arguments as a JSON object (overrides --arg)")
	cmd.Flags().String("session", "", "gateway session key to scope the invocation")
	cmd.Flags().Bool("dry-run", false, "validate without side effects")
	return cmd
}

func runTool(cmd *cobra.Command, args []string) error {
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

	toolArgs, err := parseToolArgs(cmd)
	if err != nil {
		return err
	}

	action, _ := cmd.Flags().GetString("action")
	sessionKey, _ := cmd.Flags().GetString("session")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	result, err := client.InvokeTool(cmd.Context(), gateway.ToolRequest{
		Tool:       args[0],
		Action:     action,
		Args:       toolArgs,
		SessionKey: sessionKey,
		DryRun:     dryRun,
	})
	if err != nil {
		return fmt.Errorf("invoking tool: %w", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.OK {
		os.Exit(1)
	}
	return nil
}

// parseToolArgs merges --args-json and repeated --arg key=value flags.
func parseToolArgs(cmd *cobra.Command) (map[string]any, error) {
	if raw, _ := cmd.Flags().GetString("args-json"); raw != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, fmt.Errorf("parsing --args-json: %w", err)
		}
		return parsed, nil
	}

	pairs, _ := cmd.Flags().GetStringArray("arg")
	if len(pairs) == 0 {
		return nil, nil
	}
	parsed := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", pair)
		}
		parsed[key] = value
	}
	return parsed, nil
}
