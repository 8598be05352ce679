package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/cmd/draftmill/commands"
	"github.com/draftmill/draftmill/logger"
)

var rootCmd = &cobra.Command{
	Use:   "draftmill",
	Short: "draftmill - content-generation scheduler and task queue",
	Long: `draftmill - the scheduling and execution core of the content platform.

draftmill accepts content-generation work items, orders and throttles their
execution, and drives recurring/one-shot triggers that enqueue new work on a
schedule (cron expressions, fixed intervals, one-shot timestamps).

Available commands:
  serve   - Start the scheduler daemon
  jobs    - Manage scheduled jobs (create, list, pause, resume, delete)
  tasks   - Manage tasks (submit, list, cancel)
  history - Show execution history

Examples:
  draftmill serve                                        # Run the daemon
  draftmill jobs create --name daily --schedule "daily 08:00" --params '{"topic":"news"}'
  draftmill jobs ls                                      # List jobs
  draftmill tasks ls --status queued                     # List queued tasks`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLog, _ := cmd.Flags().GetBool("json-log")
		if err := logger.Initialize(jsonLog); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit JSON log output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.TasksCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
