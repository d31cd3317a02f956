package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/deepnoodle-ai/runnel/export"
	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Render a workflow as an embeddable JavaScript snippet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		w, err := workflow.ParseFile(args[0])
		if err != nil {
			return err
		}
		snippet, err := export.Snippet(w, time.Now())
		if err != nil {
			return err
		}
		if output == "" || output == "-" {
			_, err = fmt.Fprint(cmd.OutOrStdout(), snippet)
			return err
		}
		if err := os.WriteFile(output, []byte(snippet), 0644); err != nil {
			return fmt.Errorf("error writing snippet: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s wrote %s\n", successStyle.Sprint(checkmark), output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Write the snippet to this file instead of stdout")
}
