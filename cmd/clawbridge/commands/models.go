package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
)

// newModelsCmd creates the `clawbridge models` command.
func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List gateway models and select the active one",
		Long: `List the models the gateway advertises. With --set, persists the
active model used for new conversations.

Examples:
  clawbridge models
  clawbridge models --set claude-sonnet-4`,
		RunE: runModels,
	}

	cmd.Flags().String("set", "", "persist this model as the active one")
	return cmd
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	settings, err := config.OpenSettings(settingsPath(cfg))
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}

	if model, _ := cmd.Flags().GetString("set"); model != "" {
		if err := settings.SetActiveModel(model); err != nil {
			return fmt.Errorf("persisting model selection: %w", err)
		}
		fmt.Printf("active model set to %s\n", model)
		return nil
	}

	client := newGatewayClient(cfg, settings, logger)
	models, err := client.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}

	active := settings.ActiveModel()
	if len(models) == 0 {
		fmt.Println("gateway advertises no models")
		return nil
	}
	for _, m := range models {
		marker := " "
		if m.ID == active {
			marker = "*"
		}
		if m.ContextWindow > 0 {
			fmt.Printf("%s %s (%s, %d ctx)\n", marker, m.ID, m.OwnedBy, m.ContextWindow)
		} else {
			fmt.Printf("%s %s (%s)\n", marker, m.ID, m.OwnedBy)
		}
	}
	return nil
}
