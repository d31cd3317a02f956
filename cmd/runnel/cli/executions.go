package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/deepnoodle-ai/runnel/events"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect recorded workflow executions",
	Long:  "List and show workflow executions recorded with --events or the events settings in the config file",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow executions",
	Long: `List workflow executions, newest first.

--workflow takes a glob matched against the workflow name, e.g. "order*".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := cmd.Flags().GetString("status")
		if err != nil {
			return err
		}
		pattern, err := cmd.Flags().GetString("workflow")
		if err != nil {
			return err
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		offset, err := cmd.Flags().GetInt("offset")
		if err != nil {
			return err
		}
		filter, err := buildFilter(status, pattern, limit, offset)
		if err != nil {
			return err
		}
		store, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer store.Close()
		return listExecutions(cmd.Context(), cmd.OutOrStdout(), store, filter, time.Now())
	},
}

var showCmd = &cobra.Command{
	Use:   "show EXECUTION_ID",
	Short: "Show execution details",
	Long:  "Show a recorded execution, optionally with its full event history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showEvents, err := cmd.Flags().GetBool("events-history")
		if err != nil {
			return err
		}
		store, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer store.Close()
		return showExecution(cmd.Context(), cmd.OutOrStdout(), store, args[0], showEvents)
	},
}

func init() {
	rootCmd.AddCommand(executionsCmd)
	executionsCmd.AddCommand(listCmd)
	executionsCmd.AddCommand(showCmd)

	listCmd.Flags().StringP("status", "s", "", "Filter by status (running, succeeded, failed)")
	listCmd.Flags().StringP("workflow", "w", "", "Filter by workflow name glob")
	listCmd.Flags().Int("limit", 50, "Maximum number of executions to show")
	listCmd.Flags().Int("offset", 0, "Number of executions to skip")

	showCmd.Flags().BoolP("events-history", "e", false, "Show event history")
}

func storeFromConfig() (events.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

// buildFilter converts list flags into an events.Filter. The workflow
// pattern is compiled as a glob over workflow names.
func buildFilter(status, pattern string, limit, offset int) (events.Filter, error) {
	filter := events.Filter{Status: status, Limit: limit, Offset: offset}
	switch status {
	case "", events.StatusRunning, events.StatusSucceeded, events.StatusFailed:
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return filter, fmt.Errorf("invalid workflow pattern %q: %w", pattern, err)
		}
		filter.Match = g.Match
	}
	return filter, filter.Validate()
}

const (
	idWidth       = 36
	workflowWidth = 24
	statusWidth   = 13
	startedWidth  = 16
)

func listExecutions(ctx context.Context, out io.Writer, store events.Store, filter events.Filter, now time.Time) error {
	executions, err := store.ListExecutions(ctx, filter)
	if err != nil {
		return fmt.Errorf("error listing executions: %w", err)
	}
	if len(executions) == 0 {
		fmt.Fprintln(out, "No executions found.")
		return nil
	}
	fmt.Fprintln(out, headerStyle.Sprint(
		cell("EXECUTION ID", idWidth)+" "+
			cell("WORKFLOW", workflowWidth)+" "+
			cell("STATUS", statusWidth)+" "+
			cell("STARTED", startedWidth)+" "+
			"DURATION"))
	fmt.Fprintln(out, rule(idWidth+workflowWidth+statusWidth+startedWidth+14))
	for _, execution := range executions {
		name := execution.WorkflowName
		if name == "" {
			name = execution.WorkflowID
		}
		fmt.Fprintln(out,
			cell(execution.ID, idWidth)+" "+
				cell(name, workflowWidth)+" "+
				statusText(execution.Status, statusWidth)+" "+
				cell(formatTimeAgo(execution.StartTime, now), startedWidth)+" "+
				formatDuration(execution.StartTime, execution.EndTime))
	}
	return nil
}

func showExecution(ctx context.Context, out io.Writer, store events.Store, executionID string, showEvents bool) error {
	execution, err := store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("error getting execution: %w", err)
	}

	fmt.Fprintln(out, headerStyle.Sprint("Execution Details"))
	fmt.Fprintf(out, "ID:           %s\n", execution.ID)
	fmt.Fprintf(out, "Workflow:     %s (%s)\n", execution.WorkflowName, execution.WorkflowID)
	if execution.Trigger != "" {
		fmt.Fprintf(out, "Trigger:      %s\n", execution.Trigger)
	}
	fmt.Fprintf(out, "Status:       %s\n", statusText(execution.Status, 0))
	if !execution.StartTime.IsZero() {
		fmt.Fprintf(out, "Started:      %s\n", execution.StartTime.Local().Format("2006-01-02 15:04:05"))
	}
	if !execution.EndTime.IsZero() {
		fmt.Fprintf(out, "Ended:        %s\n", execution.EndTime.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Duration:     %s\n", formatDuration(execution.StartTime, execution.EndTime))
	}
	if execution.Error != "" {
		fmt.Fprintf(out, "Error:        %s\n", errorStyle.Sprint(execution.Error))
	}
	if len(execution.Errors) > 0 {
		fmt.Fprintln(out, "\nBranch errors:")
		for _, message := range execution.Errors {
			fmt.Fprintf(out, "  %s %s\n", errorStyle.Sprint(xmark), message)
		}
	}
	if !showEvents {
		return nil
	}

	history, err := store.GetEvents(ctx, executionID)
	if err != nil {
		return fmt.Errorf("error getting events: %w", err)
	}
	fmt.Fprintf(out, "\nEvent History (%d events):\n", len(history))
	for _, event := range history {
		fmt.Fprintf(out, "  %3d. [%s] %s", event.Sequence,
			event.Timestamp.Local().Format("15:04:05.000"), eventTypeText(event.Type))
		if event.NodeID != "" {
			fmt.Fprintf(out, " [%s]", event.NodeID)
		}
		if len(event.Data) > 0 {
			if data, err := json.Marshal(event.Data); err == nil {
				fmt.Fprintf(out, " %s", mutedStyle.Sprint(string(data)))
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}

func eventTypeText(eventType events.EventType) string {
	text := string(eventType)
	switch eventType {
	case events.EventRunStarted, events.EventRunCompleted, events.EventNodeSucceeded:
		return successStyle.Sprint(text)
	case events.EventRunFailed, events.EventNodeFailed, events.EventTraversalLimit,
		events.EventHandlerRecovery, events.EventConditionError:
		return errorStyle.Sprint(text)
	case events.EventNodeStarted, events.EventRunCancelled:
		return warningStyle.Sprint(text)
	}
	return infoStyle.Sprint(text)
}
