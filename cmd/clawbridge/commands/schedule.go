package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/scheduler"
)

// newScheduleCmd creates the `clawbridge schedule` command group for
// managing scheduled prompts. The running daemon picks up changes on its
// next restart.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled prompts",
		Long: `Manage prompts that fire on a cron schedule, like a morning
briefing.

Examples:
  clawbridge schedule list
  clawbridge schedule add morning "0 7 * * *" "Summarize the house state"
  clawbridge schedule disable morning
  clawbridge schedule remove morning`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRemoveCmd(),
		newScheduleToggleCmd("enable", true),
		newScheduleToggleCmd("disable", false),
	)
	return cmd
}

// openJobStorage opens the shared database for job management.
func openJobStorage(cmd *cobra.Command) (*scheduler.SQLJobStorage, func(), error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.History.DBPath == "" {
		return nil, nil, fmt.Errorf("scheduled prompts need persistence — set history.db_path in the config")
	}
	db, err := history.OpenDatabase(cfg.History.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return scheduler.NewSQLJobStorage(db), func() { db.Close() }, nil
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			jobs, err := storage.LoadAll()
			if err != nil {
				return fmt.Errorf("loading jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled prompts")
				return nil
			}
			for _, job := range jobs {
				state := "enabled"
				if !job.Enabled {
					state = "disabled"
				}
				lastRun := "never"
				if job.LastRunAt != nil {
					lastRun = job.LastRunAt.Local().Format(time.RFC3339)
				}
				fmt.Printf("%s  [%s]  %q  (%s, runs: %d, last: %s)\n",
					job.ID, job.Schedule, job.Prompt, state, job.RunCount, lastRun)
				if job.LastError != "" {
					fmt.Printf("    last error: %s\n", job.LastError)
				}
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id> <cron> <prompt>",
		Short: "Add a scheduled prompt",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cron.ParseStandard(args[1]); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", args[1], err)
			}

			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			sessionID, _ := cmd.Flags().GetString("session")
			job := &scheduler.Job{
				ID:        args[0],
				Schedule:  args[1],
				Prompt:    args[2],
				SessionID: sessionID,
				Enabled:   true,
				CreatedAt: time.Now(),
			}
			if err := storage.Save(job); err != nil {
				return fmt.Errorf("saving job: %w", err)
			}
			fmt.Printf("job %s added (takes effect on daemon restart)\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringP("session", "s", "", "session the prompt runs in")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := storage.Delete(args[0]); err != nil {
				return fmt.Errorf("removing job: %w", err)
			}
			fmt.Printf("job %s removed\n", args[0])
			return nil
		},
	}
}

func newScheduleToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a scheduled prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			jobs, err := storage.LoadAll()
			if err != nil {
				return fmt.Errorf("loading jobs: %w", err)
			}
			for _, job := range jobs {
				if job.ID == args[0] {
					job.Enabled = enabled
					if err := storage.Save(job); err != nil {
						return fmt.Errorf("saving job: %w", err)
					}
					fmt.Printf("job %s %sd\n", job.ID, verb)
					return nil
				}
			}
			return fmt.Errorf("job %q not found", args[0])
		},
	}
}
