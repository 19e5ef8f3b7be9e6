package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/testwatch/internal/search"
)

var listCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List test files, optionally filtered by a filename regex",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}

		roots, err := resolveRoots(c, nil)
		if err != nil {
			return err
		}
		contexts, err := loadContexts(cmd.Context(), c, roots)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		total := 0
		for _, b := range search.Bind(contexts) {
			tests, err := b.Source.FindMatchingTests(pattern)
			if err != nil {
				return err
			}
			for _, t := range tests {
				if len(contexts) > 1 {
					fmt.Fprintf(out, "%s: %s\n", b.Context.Root.DisplayName(), t)
				} else {
					fmt.Fprintln(out, t)
				}
			}
			total += len(tests)
		}
		if total == 0 {
			cmd.PrintErrln("No tests found.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
