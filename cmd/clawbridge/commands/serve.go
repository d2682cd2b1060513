package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/bridge"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/config"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/coordinator"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/credentials"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/scheduler"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/server"
)

// newServeCmd creates the `clawbridge serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge daemon",
		Long: `Start clawbridge as a daemon: polls gateway status, runs scheduled
prompts, and serves the host JSON API.

Examples:
  clawbridge serve
  clawbridge serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	logger.Info("config loaded", "path", configPath)

	// ── Persistence ──
	var db *sql.DB
	if cfg.History.DBPath != "" {
		db, err = history.OpenDatabase(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
	}

	settings, err := config.OpenSettings(settingsPath(cfg))
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}

	store, err := history.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("loading chat history: %w", err)
	}

	// ── Gateway plumbing ──
	client := newGatewayClient(cfg, settings, logger)
	coord := coordinator.New(client, cfg.Poll.Interval, logger)

	var refresher *credentials.Refresher
	if cfg.Gateway.ConfigRoot != "" {
		refresher = credentials.NewRefresher(cfg.Gateway.ConfigRoot, settings, client, logger)
		coord.SetRefreshFunc(refresher.Refresh)
	}

	bus := events.NewBus()

	bridgeOpts := bridge.Options{
		Client:       client,
		Coordinator:  coord,
		History:      store,
		Bus:          bus,
		Models:       settings,
		Instructions: cfg.Instructions,
		Policy: bridge.ContextPolicy{
			MaxChars: cfg.Context.MaxChars,
			Strategy: cfg.Context.Strategy,
		},
		Logger: logger,
	}
	if refresher != nil {
		bridgeOpts.Refresher = refresher
	}
	b := bridge.New(bridgeOpts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Scheduler ──
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled && db != nil {
		handler := func(ctx context.Context, job *scheduler.Job) (string, error) {
			reply, err := b.Send(ctx, bridge.SendRequest{
				SessionID: job.SessionID,
				Message:   job.Prompt,
			})
			if err != nil {
				return "", err
			}
			return reply.Text, nil
		}
		sched = scheduler.New(scheduler.NewSQLJobStorage(db), handler, logger)
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
		}
	}

	// ── Host API ──
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(server.Config{
			Enabled:   true,
			Addr:      cfg.Server.Addr,
			AuthToken: cfg.Server.AuthToken,
		}, b, bus, logger)
		if sched != nil {
			srv.SetJobLister(sched)
		}
		if err := srv.Start(ctx); err != nil {
			logger.Error("failed to start host API", "error", err)
		}
	}

	// ── Status polling ──
	coord.Start(ctx)

	logger.Info("clawbridge running. Press Ctrl+C to stop.",
		"gateway", client.BaseURL(),
		"poll_interval", cfg.Poll.Interval,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		coord.Stop()
		if sched != nil {
			sched.Stop()
		}
		if srv != nil {
			srv.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}
