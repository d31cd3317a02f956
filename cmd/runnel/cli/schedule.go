package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/deepnoodle-ai/runnel/engine"
	"github.com/deepnoodle-ai/runnel/log"
	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const defaultReloadDebounce = 250 * time.Millisecond

var scheduleCmd = &cobra.Command{
	Use:   "schedule FILE",
	Short: "Run a workflow and keep its cron nodes firing",
	Long: `Run a workflow once, then keep its cron schedules active until
interrupted. Each tick starts a fresh execution from the cron node.

With --watch the definition is reloaded whenever the file changes: the old
schedules are stopped and the workflow is run again from its triggers. A
definition that fails to parse leaves the current schedules in place.

Examples:
  runnel schedule digest.yaml
  runnel schedule digest.yaml --watch --events ~/.runnel/events`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, err := cmd.Flags().GetBool("watch")
		if err != nil {
			return err
		}
		input, err := cmd.Flags().GetString("input")
		if err != nil {
			return err
		}
		vars, err := cmd.Flags().GetStringArray("var")
		if err != nil {
			return err
		}
		payload, err := buildPayload(cmd.InOrStdin(), input, vars)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, logger, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		s := &scheduleRunner{
			path:     path,
			payload:  payload,
			engine:   eng,
			logger:   logger,
			out:      cmd.OutOrStdout(),
			debounce: defaultReloadDebounce,
		}
		return s.Start(ctx, watch)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().BoolP("watch", "w", false, "Reload the workflow when the file changes")
	scheduleCmd.Flags().StringP("input", "i", "", "JSON file holding the input payload (\"-\" reads stdin)")
	scheduleCmd.Flags().StringArray("var", nil, "Set a payload value (format: key=value). Can be specified multiple times")
}

// scheduleRunner owns the long-running schedule loop.
type scheduleRunner struct {
	path     string
	payload  map[string]any
	engine   *engine.Engine
	logger   log.Logger
	out      io.Writer
	debounce time.Duration
}

// Start loads the workflow and blocks until ctx is done.
func (s *scheduleRunner) Start(ctx context.Context, watch bool) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	if !watch {
		fmt.Fprintln(s.out, mutedStyle.Sprint("Press Ctrl+C to stop..."))
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files rather than writing in place, so the
	// directory is watched instead of the file.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	fmt.Fprintf(s.out, "%s %s\n", infoStyle.Sprint("Watching"), s.path)
	fmt.Fprintln(s.out, mutedStyle.Sprint("Press Ctrl+C to stop..."))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if s.isTarget(event) {
				pending = time.After(s.debounce)
			}
		case <-pending:
			pending = nil
			if err := s.load(ctx); err != nil {
				s.logger.Error("failed to reload workflow", "path", s.path, "error", err)
				fmt.Fprintln(s.out, errorStyle.Sprint(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("file watcher error", "error", err)
		}
	}
}

func (s *scheduleRunner) isTarget(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != s.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// load parses the workflow, replaces any active schedules and runs it once.
func (s *scheduleRunner) load(ctx context.Context) error {
	w, err := workflow.ParseFile(s.path)
	if err != nil {
		return err
	}
	// reject a definition Run would refuse before dropping the old jobs
	if _, err := workflow.NewGraph(w); err != nil {
		return err
	}
	s.engine.Scheduler().StopAll()

	result, err := s.engine.Run(ctx, w, s.payload)
	if err != nil {
		return err
	}
	name := w.Name
	if name == "" {
		name = w.ID
	}
	if result.Success {
		fmt.Fprintf(s.out, "%s %s ran in %s\n", successStyle.Sprint(checkmark), name, result.Duration().Round(time.Millisecond))
	} else {
		fmt.Fprintf(s.out, "%s %s ran with errors\n", errorStyle.Sprint(xmark), name)
		for _, message := range result.Errors {
			fmt.Fprintln(s.out, "  "+errorStyle.Sprint(message))
		}
	}
	active := s.engine.Scheduler().Active()
	if len(active) == 0 {
		fmt.Fprintln(s.out, warningStyle.Sprint("No cron schedules are active"))
		return nil
	}
	fmt.Fprintf(s.out, "%s %d cron schedule(s) active: %v\n", infoStyle.Sprint(bullet), len(active), active)
	return nil
}
