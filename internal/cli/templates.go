package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rebutqc/internal/prompt"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage prompt templates",
	Long: `Manage the evaluation and rewrite prompt templates.

Templates are plain text with {{PLACEHOLDER}} markers. A template that cannot
be read or lacks a required placeholder is replaced by the built-in one and a
warning is recorded in the run.`,
}

var templatesDumpCmd = &cobra.Command{
	Use:   "dump <dir>",
	Short: "Write the built-in templates to a directory for editing",
	Long: `Write the built-in templates to <dir> as evaluation.txt and rewrite.txt.
Point templates.dir at the directory to use the edited copies.

Example:
  rebutqc templates dump ~/.rebutqc/templates`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := prompt.WriteBuiltin(args[0])
		for _, path := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesDumpCmd)
}
