package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/scuttle/pkg/client"
	"github.com/cuemby/scuttle/pkg/types"
	"github.com/spf13/cobra"
)

// Task commands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage crawl tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit URL",
	Short: "Submit a URL for crawling",
	Long: `Submit a URL for crawling against a registered host.

Examples:
  # One-shot crawl at default priority
  scuttle task submit https://shop.example.com/p/123 --host shop.example.com

  # High priority, re-crawled every 12 hours
  scuttle task submit https://shop.example.com/sale --host shop.example.com \
    --priority 1 --recurring --interval 12h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		host, err := resolveHost(c, cmd)
		if err != nil {
			return err
		}
		opts, err := taskOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		task, err := c.SubmitTask(host.ID, args[0], opts)
		if err != nil {
			return fmt.Errorf("failed to submit task: %v", err)
		}

		fmt.Printf("✓ Task submitted: %s\n", task.ID)
		fmt.Printf("  URL: %s\n", task.URL)
		fmt.Printf("  Priority: %d\n", task.Priority)
		if task.IsRecurring {
			fmt.Printf("  Recurring: every %s\n", task.Interval)
		}
		return nil
	},
}

var taskBulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Submit a batch of URLs from a file",
	Long: `Submit a batch of URLs from a file, one URL per line. Blank lines and
lines starting with # are skipped. Use '-' to read from stdin.

Examples:
  scuttle task bulk --host shop.example.com --file urls.txt
  cat urls.txt | scuttle task bulk --host shop.example.com --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		urls, err := readURLList(file)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			return fmt.Errorf("no URLs found in %s", file)
		}

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		host, err := resolveHost(c, cmd)
		if err != nil {
			return err
		}
		opts, err := taskOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		result, err := c.SubmitTasksBulk(host.ID, urls, opts)
		if err != nil {
			return fmt.Errorf("failed to submit batch: %v", err)
		}

		fmt.Printf("✓ Submitted %d/%d tasks\n", len(result.Inserted), len(urls))
		for _, dup := range result.Duplicates {
			fmt.Printf("  duplicate: %s (task %s)\n", dup.URL, dup.ExistingID)
		}
		for _, inv := range result.Invalid {
			fmt.Printf("  invalid: %s (%s)\n", inv.URL, inv.Reason)
		}
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		query := types.TaskQuery{}
		if hostFlag, _ := cmd.Flags().GetString("host"); hostFlag != "" {
			host, err := c.GetHost(hostFlag)
			if err != nil {
				return err
			}
			query.Filter.HostID = host.ID
		}
		if statusCSV, _ := cmd.Flags().GetString("status"); statusCSV != "" {
			for _, s := range strings.Split(statusCSV, ",") {
				query.Filter.Statuses = append(query.Filter.Statuses, types.TaskStatus(strings.TrimSpace(s)))
			}
		}
		if cmd.Flags().Changed("recurring") {
			recurring, _ := cmd.Flags().GetBool("recurring")
			query.Filter.IsRecurring = &recurring
		}
		sortKey, _ := cmd.Flags().GetString("sort")
		query.Sort = types.TaskSortKey(sortKey)
		query.Desc, _ = cmd.Flags().GetBool("desc")
		query.Limit, _ = cmd.Flags().GetInt("limit")
		query.Cursor, _ = cmd.Flags().GetString("cursor")

		page, err := c.QueryTasks(query)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %v", err)
		}

		if len(page.Tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIO\tRETRIES\tSCHEDULED\tURL")
		for _, task := range page.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
				shortID(task.ID), task.Status, task.Priority,
				task.RetryCount, task.MaxRetries,
				fmtTime(task.ScheduledAt), task.URL)
		}
		w.Flush()

		if page.NextCursor != "" {
			fmt.Printf("\nMore results: --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		task, err := c.GetTask(args[0])
		if err != nil {
			return err
		}
		printTask(task)
		return nil
	},
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Pause a task before it reaches a worker",
	Args:  cobra.ExactArgs(1),
	RunE:  taskLifecycleRunE("pause", "paused", func(c *client.Client, id string) (*types.CrawlTask, error) { return c.PauseTask(id) }),
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Return a paused task to the schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  taskLifecycleRunE("resume", "resumed", func(c *client.Client, id string) (*types.CrawlTask, error) { return c.ResumeTask(id) }),
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a task and free its URL for resubmission",
	Args:  cobra.ExactArgs(1),
	RunE:  taskLifecycleRunE("cancel", "cancelled", func(c *client.Client, id string) (*types.CrawlTask, error) { return c.CancelTask(id) }),
}

var taskRestartCmd = &cobra.Command{
	Use:   "restart ID",
	Short: "Re-run a failed or completed task",
	Long: `Re-run a failed or completed task from the beginning, or with
--parse-only re-enter at the parse stage against the stored HTML.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		parseOnly, _ := cmd.Flags().GetBool("parse-only")
		if parseOnly {
			task, err := c.RestartParseOnly(args[0])
			if err != nil {
				return fmt.Errorf("failed to restart: %v", err)
			}
			fmt.Printf("✓ Task %s re-entered at parse stage (status: %s)\n", shortID(task.ID), task.Status)
			return nil
		}

		opts, err := restartOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		task, err := c.RestartTask(args[0], opts)
		if err != nil {
			return fmt.Errorf("failed to restart: %v", err)
		}
		fmt.Printf("✓ Task %s restarted (status: %s, retries: %d/%d)\n",
			shortID(task.ID), task.Status, task.RetryCount, task.MaxRetries)
		return nil
	},
}

var taskPriorityCmd = &cobra.Command{
	Use:   "priority ID PRIORITY",
	Short: "Change a task's priority (1 highest, 10 lowest)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("priority must be a number: %v", err)
		}

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		task, err := c.ChangePriority(args[0], priority)
		if err != nil {
			return fmt.Errorf("failed to change priority: %v", err)
		}
		fmt.Printf("✓ Task %s priority set to %d\n", shortID(task.ID), task.Priority)
		return nil
	},
}

var taskRestartFailedCmd = &cobra.Command{
	Use:   "restart-failed",
	Short: "Restart failed tasks in bulk",
	Long: `Restart failed tasks in bulk, optionally scoped to one host and to
failures at or after a cutoff.

Examples:
  # Everything that failed since the proxy outage
  scuttle task restart-failed --failed-after 2026-08-25T06:00:00Z --reset-retries

  # Only one host, newest 200 failures
  scuttle task restart-failed --host shop.example.com --limit 200`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		hostID := ""
		if hostFlag, _ := cmd.Flags().GetString("host"); hostFlag != "" {
			host, err := c.GetHost(hostFlag)
			if err != nil {
				return err
			}
			hostID = host.ID
		}
		failedAfter, err := timeFlag(cmd, "failed-after")
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		opts, err := restartOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		result, err := c.RestartFailed(hostID, failedAfter, limit, opts)
		if err != nil {
			return fmt.Errorf("failed to restart tasks: %v", err)
		}

		fmt.Printf("✓ Restarted %d tasks\n", len(result.Restarted))
		for _, failure := range result.Failed {
			fmt.Printf("  skipped %s: %s\n", shortID(failure.TaskID), failure.Error)
		}
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskBulkCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskPauseCmd)
	taskCmd.AddCommand(taskResumeCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskRestartCmd)
	taskCmd.AddCommand(taskPriorityCmd)
	taskCmd.AddCommand(taskRestartFailedCmd)
	rootCmd.AddCommand(taskCmd)

	for _, cmd := range []*cobra.Command{taskSubmitCmd, taskBulkCmd} {
		cmd.Flags().String("host", "", "Host name or ID (required)")
		cmd.Flags().Int("priority", 0, "Priority 1 (highest) to 10, default 5")
		cmd.Flags().String("schedule", "", "Earliest run time (RFC3339)")
		cmd.Flags().Int("max-retries", 0, "Override the retry budget")
		cmd.Flags().Bool("recurring", false, "Re-crawl on a fixed interval after completion")
		cmd.Flags().Duration("interval", 0, "Recurrence interval (default: host's default_interval)")
		cmd.Flags().String("created-by", "", "Submitter recorded on the task")
		cmd.MarkFlagRequired("host")
	}
	taskBulkCmd.Flags().StringP("file", "f", "", "File with one URL per line, '-' for stdin (required)")
	taskBulkCmd.MarkFlagRequired("file")

	taskListCmd.Flags().String("host", "", "Filter by host name or ID")
	taskListCmd.Flags().String("status", "", "Comma-separated status filter (e.g. pending,failed)")
	taskListCmd.Flags().Bool("recurring", false, "Only recurring (or with =false, only one-shot) tasks")
	taskListCmd.Flags().String("sort", "", "Sort key: created_at, scheduled_at, priority or status")
	taskListCmd.Flags().Bool("desc", false, "Sort descending")
	taskListCmd.Flags().Int("limit", 0, "Page size (default 50)")
	taskListCmd.Flags().String("cursor", "", "Resume from a previous page's cursor")

	taskRestartCmd.Flags().Bool("parse-only", false, "Re-enter at the parse stage using the stored HTML")
	taskRestartCmd.Flags().Bool("reset-retries", false, "Zero the retry counter")
	taskRestartCmd.Flags().Int("priority", 0, "New priority (default: keep)")
	taskRestartCmd.Flags().String("schedule", "", "Earliest run time (RFC3339)")

	taskRestartFailedCmd.Flags().String("host", "", "Restrict to one host (name or ID)")
	taskRestartFailedCmd.Flags().String("failed-after", "", "Only failures at or after this time (RFC3339)")
	taskRestartFailedCmd.Flags().Int("limit", 0, "Cap the number of restarts")
	taskRestartFailedCmd.Flags().Bool("reset-retries", false, "Zero the retry counter")
	taskRestartFailedCmd.Flags().Int("priority", 0, "New priority (default: keep)")
}

// resolveHost turns the --host flag (name or ID) into a host record.
func resolveHost(c *client.Client, cmd *cobra.Command) (*types.Host, error) {
	nameOrID, _ := cmd.Flags().GetString("host")
	host, err := c.GetHost(nameOrID)
	if err != nil {
		return nil, fmt.Errorf("host %q: %v", nameOrID, err)
	}
	return host, nil
}

func taskOptionsFromFlags(cmd *cobra.Command) (types.TaskOptions, error) {
	opts := types.TaskOptions{}
	opts.Priority, _ = cmd.Flags().GetInt("priority")
	opts.IsRecurring, _ = cmd.Flags().GetBool("recurring")
	opts.Interval, _ = cmd.Flags().GetDuration("interval")
	opts.CreatedBy, _ = cmd.Flags().GetString("created-by")

	scheduledAt, err := timeFlag(cmd, "schedule")
	if err != nil {
		return opts, err
	}
	opts.ScheduledAt = scheduledAt

	if cmd.Flags().Changed("max-retries") {
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		opts.MaxRetries = &maxRetries
	}
	return opts, nil
}

func restartOptionsFromFlags(cmd *cobra.Command) (types.RestartOptions, error) {
	opts := types.RestartOptions{}
	opts.ResetRetries, _ = cmd.Flags().GetBool("reset-retries")
	opts.Priority, _ = cmd.Flags().GetInt("priority")

	if cmd.Flags().Lookup("schedule") != nil {
		scheduledAt, err := timeFlag(cmd, "schedule")
		if err != nil {
			return opts, err
		}
		opts.ScheduledAt = scheduledAt
	}
	return opts, nil
}

// timeFlag parses an RFC3339 flag into a *time.Time, nil when unset.
func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s must be RFC3339 (e.g. 2026-08-25T06:00:00Z): %v", name, err)
	}
	return &t, nil
}

func taskLifecycleRunE(verb, past string, op func(*client.Client, string) (*types.CrawlTask, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		task, err := op(c, args[0])
		if err != nil {
			return fmt.Errorf("failed to %s task: %v", verb, err)
		}
		fmt.Printf("✓ Task %s %s (status: %s)\n", shortID(task.ID), past, task.Status)
		return nil
	}
}

func readURLList(path string) ([]string, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read URL list: %v", err)
		}
		defer f.Close()
		reader = f
	}

	var urls []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func printTask(task *types.CrawlTask) {
	fmt.Printf("ID:        %s\n", task.ID)
	fmt.Printf("URL:       %s\n", task.URL)
	fmt.Printf("Host:      %s\n", task.HostID)
	fmt.Printf("Status:    %s\n", task.Status)
	fmt.Printf("Priority:  %d\n", task.Priority)
	fmt.Printf("Retries:   %d/%d\n", task.RetryCount, task.MaxRetries)
	fmt.Printf("Scheduled: %s\n", fmtTime(task.ScheduledAt))
	if task.StartedAt != nil {
		fmt.Printf("Started:   %s\n", fmtTime(*task.StartedAt))
	}
	if task.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", fmtTime(*task.CompletedAt))
	}
	if task.IsRecurring {
		fmt.Printf("Recurring: every %s (run %d)\n", task.Interval, task.RecurCount)
		if task.NextRunAt != nil {
			fmt.Printf("Next run:  %s\n", fmtTime(*task.NextRunAt))
		}
	}
	if task.BlobRef != "" {
		fmt.Printf("Blob:      %s\n", task.BlobRef)
	}
	if task.HTTPCode != 0 {
		fmt.Printf("HTTP:      %d (%dms)\n", task.HTTPCode, task.LatencyMS)
	}
	if task.ProxyID != "" {
		fmt.Printf("Proxy:     %s\n", task.ProxyID)
	}
	if task.Error != "" {
		fmt.Printf("Error:     %s\n", task.Error)
	}
	if task.CreatedBy != "" {
		fmt.Printf("Created:   %s by %s\n", fmtTime(task.CreatedAt), task.CreatedBy)
	} else {
		fmt.Printf("Created:   %s\n", fmtTime(task.CreatedAt))
	}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
