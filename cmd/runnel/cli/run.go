package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/deepnoodle-ai/runnel/engine"
	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run a workflow once",
	Long: `Run a workflow definition once and print the run result as JSON.

The payload is read from --input (a JSON object, "-" for stdin) and then
extended with --var assignments. Values given to --var are parsed as JSON
when possible and kept as strings otherwise. Dotted keys create nested
objects.

Examples:
  runnel run order.yaml --input order.json
  runnel run order.yaml --var customer.name=Ada --var total=42
  runnel run order.yaml --events ~/.runnel/executions.db`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		w, err := workflow.ParseFile(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, _, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		result, runErr := eng.Run(ctx, w, payload)
		if result != nil {
			if err := printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), w, result); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		if !result.Success {
			return fmt.Errorf("workflow finished with %d error(s)", len(result.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("input", "i", "", "JSON file holding the input payload (\"-\" reads stdin)")
	runCmd.Flags().StringArray("var", nil, "Set a payload value (format: key=value). Can be specified multiple times")
}

// buildPayload reads the JSON object at input, if any, and applies each
// key=value assignment on top of it.
func buildPayload(stdin io.Reader, input string, vars []string) (map[string]any, error) {
	payload := map[string]any{}
	if input != "" {
		var data []byte
		var err error
		if input == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(input)
		}
		if err != nil {
			return nil, fmt.Errorf("error reading input: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&payload); err != nil {
			return nil, fmt.Errorf("input must be a JSON object: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}
	for _, v := range vars {
		key, value, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q (expected key=value)", v)
		}
		if err := setPath(payload, strings.Split(key, "."), parseValue(value)); err != nil {
			return nil, fmt.Errorf("invalid variable %q: %w", v, err)
		}
	}
	return payload, nil
}

// parseValue interprets s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var value any
	decoder := json.NewDecoder(strings.NewReader(s))
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return s
	}
	return value
}

func setPath(target map[string]any, path []string, value any) error {
	for i, segment := range path[:len(path)-1] {
		if segment == "" {
			return fmt.Errorf("empty key segment")
		}
		next, exists := target[segment]
		if !exists || next == nil {
			child := map[string]any{}
			target[segment] = child
			target = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not an object", strings.Join(path[:i+1], "."))
		}
		target = child
	}
	last := path[len(path)-1]
	if last == "" {
		return fmt.Errorf("empty key segment")
	}
	target[last] = value
	return nil
}

// printResult writes a one-line summary to status and the full result as
// indented JSON to out.
func printResult(out, status io.Writer, w *workflow.Workflow, result *engine.RunResult) error {
	name := w.Name
	if name == "" {
		name = w.ID
	}
	duration := result.Duration().Round(time.Millisecond)
	if result.Success {
		fmt.Fprintln(status, successStyle.Sprintf("%s %s succeeded in %s (%s)", checkmark, name, duration, result.ExecutionID))
	} else {
		fmt.Fprintln(status, errorStyle.Sprintf("%s %s failed in %s (%s)", xmark, name, duration, result.ExecutionID))
		for _, message := range result.Errors {
			fmt.Fprintln(status, "  "+errorStyle.Sprint(message))
		}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
