package cmd

import (
	"fmt"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barqdb/barq/internal/logging"
)

// newLogsCmd exposes internal/logging's Viewer (tail/filter/follow) as
// a subcommand, the way `barqctl --debug` exposes logging.Setup: this
// is the CLI surface for reading back what debug logging wrote.
func newLogsCmd() *cobra.Command {
	var source string
	var n int
	var level string
	var pattern string
	var follow bool
	var noColor bool
	var showSource bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail or follow barqctl's debug log files (~/.barq/logs/)",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := logging.ParseLogSource(source)
			paths, err := logging.FindLogFileBySource(src, "")
			if err != nil {
				return err
			}

			var re *regexp.Regexp
			if pattern != "" {
				re, err = regexp.Compile(pattern)
				if err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:      level,
				Pattern:    re,
				NoColor:    noColor,
				ShowSource: showSource || len(paths) > 1,
			}, cmd.OutOrStdout())

			entries, err := viewer.TailMultiple(paths, n)
			if err != nil {
				return err
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ch := make(chan logging.LogEntry, 64)
			errCh := make(chan error, 1)
			go func() { errCh <- viewer.FollowMultiple(ctx, paths, ch) }()

			for {
				select {
				case entry := <-ch:
					viewer.Print([]logging.LogEntry{entry})
				case <-ctx.Done():
					return nil
				case err := <-errCh:
					return err
				}
			}
		},
	}

	cmd.Flags().StringVar(&source, "source", "engine", "log source: engine, replication, all")
	cmd.Flags().IntVar(&n, "n", 50, "number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "minimum level to show: debug, info, warn, error")
	cmd.Flags().StringVar(&pattern, "grep", "", "only show lines matching this regular expression")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing new log lines as they're written")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	cmd.Flags().BoolVar(&showSource, "show-source", false, "always show the log source label")

	return cmd
}
