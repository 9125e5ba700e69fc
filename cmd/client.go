// cmd/client.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chhz0/webauto/core"
	"github.com/chhz0/webauto/types"
)

var enqueueFlags struct {
	taskType    string
	targetURL   string
	description string
	priority    string
	data        string
	scheduledAt string
	repeat      string
	webhook     string
	tags        []string
	maxRetries  int
	timeout     string
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Create a task on a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := core.CreateRequest{
			Type:        enqueueFlags.taskType,
			URL:         enqueueFlags.targetURL,
			Description: enqueueFlags.description,
			Priority:    enqueueFlags.priority,
			Tags:        enqueueFlags.tags,
			WebhookURL:  enqueueFlags.webhook,
			Repeat:      enqueueFlags.repeat,
			Timeout:     enqueueFlags.timeout,
		}
		if enqueueFlags.data != "" {
			if !json.Valid([]byte(enqueueFlags.data)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			req.Payload = json.RawMessage(enqueueFlags.data)
		}
		if enqueueFlags.scheduledAt != "" {
			at, err := time.Parse(time.RFC3339, enqueueFlags.scheduledAt)
			if err != nil {
				return fmt.Errorf("invalid --scheduled-at: %w", err)
			}
			req.ScheduledAt = &at
		}
		if cmd.Flags().Changed("max-retries") {
			req.MaxRetries = &enqueueFlags.maxRetries
		}

		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		resp, err := http.Post(apiAddr+"/api/v1/tasks", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post task: %w", err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, raw)
		}

		var task types.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return err
		}
		fmt.Printf("task %s created (%s, %s)\n", task.ID, task.Type, task.Status)
		return nil
	},
}

var listFlags struct {
	status string
	typ    string
	limit  int
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks from a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if listFlags.status != "" {
			q.Set("status", listFlags.status)
		}
		if listFlags.typ != "" {
			q.Set("type", listFlags.typ)
		}
		if listFlags.limit > 0 {
			q.Set("limit", strconv.Itoa(listFlags.limit))
		}

		resp, err := http.Get(apiAddr + "/api/v1/tasks?" + q.Encode())
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, raw)
		}

		var out struct {
			Tasks []*types.Task `json:"tasks"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPRIORITY\tCREATED\tURL")
		for _, t := range out.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Type, t.Status, t.Priority.String(),
				t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.URL)
		}
		return w.Flush()
	},
}

func init() {
	ef := enqueueCmd.Flags()
	ef.StringVar(&enqueueFlags.taskType, "type", "", "task type: form_fill|extract|click|upload")
	ef.StringVar(&enqueueFlags.targetURL, "url", "", "target page url")
	ef.StringVar(&enqueueFlags.description, "description", "", "task description")
	ef.StringVar(&enqueueFlags.priority, "priority", "medium", "low|medium|high|urgent")
	ef.StringVar(&enqueueFlags.data, "data", "", "task payload as JSON")
	ef.StringVar(&enqueueFlags.scheduledAt, "scheduled-at", "", "defer execution until this RFC3339 time")
	ef.StringVar(&enqueueFlags.repeat, "repeat", "", "cron expression for recurring runs")
	ef.StringVar(&enqueueFlags.webhook, "webhook", "", "webhook url notified on completion")
	ef.StringSliceVar(&enqueueFlags.tags, "tags", nil, "task tags")
	ef.IntVar(&enqueueFlags.maxRetries, "max-retries", 3, "retry attempts on failure")
	ef.StringVar(&enqueueFlags.timeout, "timeout", "", "per-task timeout, e.g. 45s")
	enqueueCmd.MarkFlagRequired("type")
	enqueueCmd.MarkFlagRequired("url")

	lf := listCmd.Flags()
	lf.StringVar(&listFlags.status, "status", "", "filter by status")
	lf.StringVar(&listFlags.typ, "type", "", "filter by task type")
	lf.IntVar(&listFlags.limit, "limit", 20, "max tasks to print")
}
