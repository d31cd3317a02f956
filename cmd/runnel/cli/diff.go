package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff OLD NEW",
	Short: "Show a unified diff between two workflow definitions",
	Long: `Show a unified diff between two workflow definitions.

Both files are parsed and re-rendered as YAML before comparing, so a YAML
file and an equivalent JSON file produce no differences.

Examples:
  runnel diff order.yaml order.json
  runnel diff old/order.yaml order.yaml --context 5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextLines, err := cmd.Flags().GetInt("context")
		if err != nil {
			return fmt.Errorf("error getting context flag: %w", err)
		}
		oldText, err := normalizedDefinition(args[0])
		if err != nil {
			return err
		}
		newText, err := normalizedDefinition(args[1])
		if err != nil {
			return err
		}
		return runDiff(cmd.OutOrStdout(), oldText, newText, args[0], args[1], contextLines)
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().IntP("context", "c", 3, "Number of context lines to show around changes")
}

func normalizedDefinition(path string) (string, error) {
	w, err := workflow.ParseFile(path)
	if err != nil {
		return "", err
	}
	data, err := workflow.MarshalYAML(w)
	if err != nil {
		return "", fmt.Errorf("error rendering %s: %w", path, err)
	}
	return string(data), nil
}

func runDiff(out io.Writer, oldText, newText, oldName, newName string, contextLines int) error {
	if oldText == newText {
		fmt.Fprintln(out, successStyle.Sprint(checkmark+" Workflows are identical"))
		return nil
	}
	diff, err := generateUnifiedDiff(oldText, newText, oldName, newName, contextLines)
	if err != nil {
		return err
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(out, headerStyle.Sprint(line))
		case strings.HasPrefix(line, "@@"):
			fmt.Fprint(out, infoStyle.Sprint(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(out, successStyle.Sprint(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(out, errorStyle.Sprint(line))
		default:
			fmt.Fprint(out, line)
		}
	}
	return nil
}

func generateUnifiedDiff(oldText, newText, oldName, newName string, contextLines int) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: oldName,
		ToFile:   newName,
		Context:  contextLines,
	})
}
