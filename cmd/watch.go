package cmd

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/testwatch/internal/config"
	"github.com/fakeyudi/testwatch/internal/index"
	"github.com/fakeyudi/testwatch/internal/runner"
	"github.com/fakeyudi/testwatch/internal/session"
	"github.com/fakeyudi/testwatch/internal/watch"
)

var (
	watchAll      bool
	watchPath     string
	watchName     string
	watchCoverage bool
	watchNoSCM    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [roots...] [-- test args]",
	Short: "Watch roots and rerun tests interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		if watchCoverage {
			c.CollectCoverage = config.Bool(true)
		}
		if watchNoSCM {
			c.SCM = config.Bool(false)
		}

		dirs, passthrough := splitArgs(cmd.ArgsLenAtDash(), args)
		roots, err := resolveRoots(c, dirs)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		contexts, err := loadContexts(ctx, c, roots)
		if err != nil {
			return err
		}

		debounce := time.Duration(c.DebounceMs) * time.Millisecond
		var watchers []*index.Watcher
		defer func() {
			for _, w := range watchers {
				w.Close()
			}
		}()
		for _, pc := range contexts {
			w, err := index.NewWatcher(pc.Files, debounce)
			if err != nil {
				return err
			}
			watchers = append(watchers, w)
			if err := w.Start(ctx); err != nil {
				return err
			}
		}

		filters := session.Filters{PathPattern: watchPath, NamePattern: watchName}
		log.Info().Int("roots", len(contexts)).Msg("watch session starting")
		return watch.Run(ctx, watch.Session{
			Options: watch.Options{
				Config:   c,
				Contexts: contexts,
				Args:     passthrough,
				Runner:   &runner.Exec{},
				Opener:   watch.SystemOpener{},
				Out:      cmd.OutOrStdout(),
				Err:      cmd.ErrOrStderr(),
				Mode:     initialMode(c, watchAll, filters),
				Filters:  filters,
			},
			Watchers: watchers,
			Input:    cmd.InOrStdin(),
		})
	},
}

// initialMode runs everything unless related runs are possible and wanted.
func initialMode(c config.Config, all bool, f session.Filters) session.Mode {
	if f.Active() {
		return session.ModeWatch
	}
	if all || !c.SCMEnabled() {
		return session.ModeWatchAll
	}
	return session.ModeWatch
}

func init() {
	watchCmd.Flags().BoolVar(&watchAll, "all", false, "start by running all tests instead of tests related to changes")
	watchCmd.Flags().StringVarP(&watchPath, "path-pattern", "p", "", "initial filename regex filter")
	watchCmd.Flags().StringVarP(&watchName, "name-pattern", "t", "", "initial test name regex filter")
	watchCmd.Flags().BoolVar(&watchCoverage, "coverage", false, "collect coverage")
	watchCmd.Flags().BoolVar(&watchNoSCM, "no-scm", false, "disable source control integration")
	rootCmd.AddCommand(watchCmd)
}
