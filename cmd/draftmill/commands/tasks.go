package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/internal/util"
	"github.com/draftmill/draftmill/queue"
)

// TasksCmd manages tasks.
var TasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var tasksSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task for execution",
	Long: `Submit a task to the queue. A running daemon picks it up on its next
queue poll.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		params, _ := cmd.Flags().GetString("params")
		publishCfg, _ := cmd.Flags().GetString("publish")
		priorityStr, _ := cmd.Flags().GetString("priority")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		if name == "" || params == "" {
			return fmt.Errorf("--name and --params are required")
		}
		if !json.Valid([]byte(params)) {
			return fmt.Errorf("--params must be valid JSON")
		}

		priority, err := queue.ParsePriority(priorityStr)
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
			if !json.Valid([]byte(publishCfg)) {
				return fmt.Errorf("--publish must be valid JSON")
			}
			publishJSON = json.RawMessage(publishCfg)
		}

		task := queue.NewTask(name, json.RawMessage(params), publishJSON, priority)
		task.Tags = tags
		if err := queue.NewStore(conn).CreateTask(task); err != nil {
			return err
		}

		fmt.Printf("Submitted task %s (priority: %s)\n", task.ID, priority)
		return nil
	},
}

var tasksLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusStr, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		tasks, err := queue.NewStore(conn).ListTasks(queue.Status(statusStr), limit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tSTATUS\tPROGRESS\tSTAGE\tCREATED")
		for _, task := range tasks {
			stage := task.Stage
			if stage == "" {
				stage = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\t%s\n",
				task.ID,
				task.Name,
				task.Priority,
				task.Status,
				task.Progress,
				stage,
				task.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued task",
	Long: `Cancel a queued task. Running tasks can only be cancelled through the
daemon, which owns the in-flight executor call.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		store := queue.NewStore(conn)
		task, err := store.GetTask(args[0])
		if err != nil {
			return err
		}
		if task.Status != queue.StatusQueued {
			return fmt.Errorf("task %s is %s, only queued tasks can be cancelled here", task.ID, task.Status)
		}

		task.Status = queue.StatusCancelled
		task.CompletedAt = util.Ptr(time.Now().UTC())
		if err := store.UpdateTask(task); err != nil {
			return err
		}

		fmt.Printf("Cancelled task %s\n", task.ID)
		return nil
	},
}

// HistoryCmd shows execution history.
var HistoryCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show execution history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		conn, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer conn.Close()

		records := queue.NewRecordStore(conn)
		var list []*queue.ExecutionRecord
		if len(args) == 1 {
			list, err = records.ListByTask(args[0], limit)
		} else {
			list, err = records.ListRecent(limit)
		}
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No execution history.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTATUS\tDURATION\tWORDS\tIMAGES\tPUBLISHED\tWHEN")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%dms\t%d\t%d\t%t\t%s\n",
				r.TaskID,
				r.Status,
				r.DurationMs,
				r.WordCount,
				r.ImageCount,
				r.Published,
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

func init() {
	tasksSubmitCmd.Flags().String("name", "", "Task name")
	tasksSubmitCmd.Flags().String("params", "", "Generation parameters (JSON)")
	tasksSubmitCmd.Flags().String("publish", "", "Publish configuration (JSON)")
	tasksSubmitCmd.Flags().String("priority", "normal", "Priority: high, normal, low")
	tasksSubmitCmd.Flags().StringSlice("tags", nil, "Tags")

	tasksLsCmd.Flags().String("status", "", "Filter by status")
	tasksLsCmd.Flags().Int("limit", 50, "Maximum tasks to list")

	HistoryCmd.Flags().Int("limit", 50, "Maximum records to show")

	TasksCmd.AddCommand(tasksSubmitCmd)
	TasksCmd.AddCommand(tasksLsCmd)
	TasksCmd.AddCommand(tasksCancelCmd)
}
