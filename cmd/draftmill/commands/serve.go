package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/daemon"
	"github.com/draftmill/draftmill/logger"
	"github.com/draftmill/draftmill/pipeline"
)

// ServeCmd starts the scheduler daemon in the foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler daemon",
	Long: `Start the scheduler daemon in foreground mode.

The daemon will:
- Recover queued and orphaned tasks from the database
- Run the task queue with bounded concurrency
- Arm the trigger timer for scheduled jobs
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
			cfg.Database.Path = dbPath
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.Queue.MaxConcurrent = workers
		}

		executor := pipeline.NewClient(cfg.Pipeline.URL, cfg.Pipeline.Timeout(), logger.Logger)

		d, err := daemon.New(cfg, executor, logger.Logger)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Infow("Shutting down", "signal", sig.String())

		d.Stop()
		return nil
	},
}

func init() {
	ServeCmd.Flags().String("db", "", "Database path (overrides config)")
	ServeCmd.Flags().Int("workers", 0, "Concurrent task ceiling (overrides config)")
}
