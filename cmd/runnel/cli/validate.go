package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/deepnoodle-ai/runnel/engine"
	"github.com/deepnoodle-ai/runnel/log"
	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate PATTERN...",
	Short: "Check workflow definitions without running them",
	Long: `Check workflow definitions without running them.

Each argument is a file path or a doublestar glob such as
"workflows/**/*.yaml". A definition is valid when its structure is sound,
every node type is known, every cron schedule parses and at least one
trigger node exists.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := engine.New(engine.Options{Logger: log.NewNullLogger()})
		defer eng.Close()

		invalid, total, err := validateWorkflows(cmd.OutOrStdout(), eng, args)
		if err != nil {
			return err
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d workflows are invalid", invalid, total)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validateWorkflows checks every file matched by patterns and reports one
// line per file.
func validateWorkflows(out io.Writer, eng *engine.Engine, patterns []string) (invalid, total int, err error) {
	for _, pattern := range patterns {
		workflows, err := workflow.LoadDirectory(pattern)
		if err != nil {
			return invalid, total, err
		}
		if len(workflows) == 0 {
			return invalid, total, fmt.Errorf("no workflow files match %s", pattern)
		}
		paths := make([]string, 0, len(workflows))
		for path := range workflows {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			total++
			if problem := checkWorkflow(eng, workflows[path]); problem != nil {
				invalid++
				fmt.Fprintf(out, "%s %s: %s\n", errorStyle.Sprint(xmark), path, problem)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", successStyle.Sprint(checkmark), path)
		}
	}
	return invalid, total, nil
}

func checkWorkflow(eng *engine.Engine, w *workflow.Workflow) error {
	if err := eng.Validate(w); err != nil {
		return err
	}
	if len(w.Triggers()) == 0 {
		return workflow.ErrNoTrigger
	}
	var errs []error
	for _, node := range w.Nodes {
		if node.Type != workflow.TypeCron {
			continue
		}
		schedule, _ := node.String("schedule")
		if err := engine.ParseSchedule(schedule); err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", node.ID, err))
		}
	}
	return errors.Join(errs...)
}
