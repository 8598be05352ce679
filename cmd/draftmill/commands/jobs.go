package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/internal/util"
	"github.com/draftmill/draftmill/schedule"
)

// JobsCmd manages scheduled jobs.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a scheduled job",
	Long: `Create a scheduled job from a schedule phrase.

Schedule phrases:
  "0 8 * * *"              cron expression (5-field)
  "daily 08:30"            daily at a wall-clock time
  "hourly", "daily"        named shortcuts
  "every 30m", "2h"        fixed interval
  "at 2026-09-01T08:00:00Z" one-shot timestamp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		spec, _ := cmd.Flags().GetString("schedule")
		params, _ := cmd.Flags().GetString("params")
		publishCfg, _ := cmd.Flags().GetString("publish")
		timeout, _ := cmd.Flags().GetInt("timeout")
		deleteAfterRun, _ := cmd.Flags().GetBool("delete-after-run")

		if name == "" || spec == "" || params == "" {
			return fmt.Errorf("--name, --schedule and --params are required")
		}
		if !json.Valid([]byte(params)) {
			return fmt.Errorf("--params must be valid JSON")
		}
		if publishCfg != "" && !json.Valid([]byte(publishCfg)) {
			return fmt.Errorf("--publish must be valid JSON")
		}

		sched, err := schedule.ParseSpec(spec)
		if err != nil {
			return err
		}

		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		var publishJSON json.RawMessage
		if publishCfg != "" {
			publishJSON = json.RawMessage(publishCfg)
		}
		job := schedule.NewJob(name, sched, json.RawMessage(params), publishJSON)
		if timeout > 0 {
			job.TimeoutSeconds = timeout
		}
		job.DeleteAfterRun = deleteAfterRun

		if err := schedule.NewStore(conn).CreateJob(job); err != nil {
			return err
		}

		fmt.Printf("Created job %s (next run: %s)\n", job.ID, formatTime(job.NextRunAt))
		return nil
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		jobs, err := schedule.NewStore(conn).ListJobs()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tENABLED\tNEXT RUN\tLAST STATUS\tERRORS")
		for _, job := range jobs {
			status := string(job.LastStatus)
			if status == "" {
				status = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%d\n",
				job.ID,
				job.Name,
				job.Schedule.Kind(),
				job.Enabled,
				formatTime(job.NextRunAt),
				status,
				job.ConsecutiveErrors,
			)
		}
		return w.Flush()
	},
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := schedule.NewStore(conn).DeleteJob(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted job %s\n", args[0])
		return nil
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a job (clears its next fire time)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := schedule.NewStore(conn).SetEnabled(args[0], false, nil); err != nil {
			return err
		}
		fmt.Printf("Paused job %s\n", args[0])
		return nil
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job with a fresh next fire time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		store := schedule.NewStore(conn)
		job, err := store.GetJob(args[0])
		if err != nil {
			return err
		}

		var nextRunAt *time.Time
		if next, ok := schedule.NextRun(job.Schedule, time.Now()); ok {
			nextRunAt = util.Ptr(next)
		}
		if err := store.SetEnabled(job.ID, true, nextRunAt); err != nil {
			return err
		}

		fmt.Printf("Resumed job %s (next run: %s)\n", job.ID, formatTime(nextRunAt))
		return nil
	},
}

func init() {
	jobsCreateCmd.Flags().String("name", "", "Job name")
	jobsCreateCmd.Flags().String("schedule", "", "Schedule phrase (cron, interval, or timestamp)")
	jobsCreateCmd.Flags().String("params", "", "Generation parameters (JSON)")
	jobsCreateCmd.Flags().String("publish", "", "Publish configuration (JSON)")
	jobsCreateCmd.Flags().Int("timeout", 0, "Per-fire timeout in seconds")
	jobsCreateCmd.Flags().Bool("delete-after-run", false, "Delete the job after its one-shot completes")

	JobsCmd.AddCommand(jobsCreateCmd)
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsRmCmd)
	JobsCmd.AddCommand(jobsPauseCmd)
	JobsCmd.AddCommand(jobsResumeCmd)
}
