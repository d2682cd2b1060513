package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/bridge"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/credentials"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
)

// newChatCmd creates the `clawbridge chat` command.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant through the gateway",
		Long: `Send one message, or start an interactive session when no message
is given. Replies stream token by token.

Examples:
  clawbridge chat "Is the kitchen light on?"
  clawbridge chat  # interactive mode`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("model", "m", "", "model override for this conversation")
	cmd.Flags().StringP("session", "s", "", "session id (default: a fresh one)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
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
	store, _ := history.NewStore(nil, logger)

	bridgeOpts := bridge.Options{
		Client:       client,
		History:      store,
		Bus:          events.NewBus(),
		Models:       settings,
		Instructions: cfg.Instructions,
		Policy: bridge.ContextPolicy{
			MaxChars: cfg.Context.MaxChars,
			Strategy: cfg.Context.Strategy,
		},
		Logger: logger,
	}
	if cfg.Gateway.ConfigRoot != "" {
		bridgeOpts.Refresher = credentials.NewRefresher(cfg.Gateway.ConfigRoot, settings, client, logger)
	}
	b := bridge.New(bridgeOpts)

	model, _ := cmd.Flags().GetString("model")
	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if len(args) > 0 {
		return sendAndPrint(cmd.Context(), b, sessionID, model, args[0])
	}
	return chatREPL(cmd.Context(), b, sessionID, model)
}

// sendAndPrint streams one reply to stdout.
func sendAndPrint(ctx context.Context, b *bridge.Bridge, sessionID, model, message string) error {
	_, err := b.Stream(ctx, bridge.SendRequest{
		SessionID: sessionID,
		Message:   message,
		Model:     model,
	}, func(delta string) {
		fmt.Print(delta)
	})
	fmt.Println()
	return err
}

// chatREPL runs the interactive loop. /clear wipes the session history,
// /model switches models, /quit exits.
func chatREPL(ctx context.Context, b *bridge.Bridge, sessionID, model string) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive chat. /clear resets the session, /model <id> switches models, /quit exits.")

	for {
		line, err := rl.Readline()
		if err != nil {
			// Ctrl+C on an empty line or Ctrl+D ends the session.
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			b.ClearHistory(sessionID)
			fmt.Println("session cleared")
			continue
		case strings.HasPrefix(line, "/model"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "/model"))
			if arg == "" {
				fmt.Printf("current model: %s\n", displayModel(model, b))
			} else {
				model = arg
				fmt.Printf("switched to %s\n", model)
			}
			continue
		}

		fmt.Print("assistant> ")
		if err := sendAndPrint(ctx, b, sessionID, model, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func displayModel(override string, b *bridge.Bridge) string {
	if override != "" {
		return override
	}
	if active := b.ActiveModel(); active != "" {
		return active
	}
	return "(gateway default)"
}
