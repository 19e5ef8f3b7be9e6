package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/report"
	"github.com/fakeyudi/testwatch/internal/runner"
	"github.com/fakeyudi/testwatch/internal/session"
)

var (
	runJSON     bool
	runChanged  bool
	runPath     string
	runName     string
	runCoverage bool
	runUpdate   bool
)

var runCmd = &cobra.Command{
	Use:   "run [roots...] [-- test args]",
	Short: "Run the selected tests once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		if runCoverage {
			c.CollectCoverage = config.Bool(true)
		}

		dirs, passthrough := splitArgs(cmd.ArgsLenAtDash(), args)
		roots, err := resolveRoots(c, dirs)
		if err != nil {
			return err
		}
		contexts, err := loadContexts(cmd.Context(), c, roots)
		if err != nil {
			return err
		}

		filters := session.Filters{PathPattern: runPath, NamePattern: runName}
		mode := session.ModeWatchAll
		if runChanged || filters.Active() {
			mode = session.ModeWatch
		}
		var overrides *session.Overrides
		if runUpdate {
			overrides = &session.Overrides{UpdateSnapshot: session.UpdateAll}
		}

		// Test output goes to stderr when stdout carries JSON.
		testOut := cmd.OutOrStdout()
		var renderer report.Renderer = &report.TextRenderer{}
		if runJSON {
			testOut = cmd.ErrOrStderr()
			renderer = &report.JSONRenderer{}
		}

		res, err := (&runner.Exec{}).Run(cmd.Context(), runner.Job{
			Request:  session.NewRunRequest(c, mode, filters, overrides),
			Contexts: contexts,
			Args:     passthrough,
			Out:      testOut,
			Token:    runner.NewToken(),
		})
		if err != nil {
			return err
		}
		if err := writeReport(cmd.OutOrStdout(), renderer, res); err != nil {
			return err
		}
		if !res.Success() {
			return fmt.Errorf("%d of %d test units failed", res.NumFailed, res.NumFailed+res.NumPassed)
		}
		return nil
	},
}

func writeReport(w io.Writer, r report.Renderer, res *runner.Results) error {
	b, err := r.Render(res)
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	_, err = w.Write(b)
	return err
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print results as JSON")
	runCmd.Flags().BoolVar(&runChanged, "changed", false, "only run tests related to changed files")
	runCmd.Flags().StringVarP(&runPath, "path-pattern", "p", "", "filename regex filter")
	runCmd.Flags().StringVarP(&runName, "name-pattern", "t", "", "test name regex filter")
	runCmd.Flags().BoolVar(&runCoverage, "coverage", false, "collect coverage")
	runCmd.Flags().BoolVarP(&runUpdate, "update", "u", false, "update snapshots")
	rootCmd.AddCommand(runCmd)
}
