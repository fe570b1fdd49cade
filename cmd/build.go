package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

// PassError is returned by build when the pass logged failures.
type PassError struct {
	Status crawler.PassStatus
	Count  int
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass %s with %d error(s)", e.Status, e.Count)
}

func newBuildCmd() *cobra.Command {
	var watchInputs bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run one pass over the compiled bundle",
		Long: `Loads the build stats and compiled assets, renders every configured
path and writes the resulting pages to the configured output backend.
Exits non-zero when any path failed. With --watch, keeps running and
rebuilds whenever the stats file or the bundle directory changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := runnerFrom(cmd.Context())
			if err != nil {
				return err
			}
			pass, err := runner.RunPass(cmd.Context())
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), cmd.ErrOrStderr(), pass)

			if watchInputs {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return runner.Watch(ctx)
			}
			if n := pass.Errors.Len(); n > 0 {
				return &PassError{Status: pass.Status(), Count: n}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watchInputs, "watch", false, "rebuild when the bundle changes")
	return cmd
}

// report prints a one-line summary and the first line of every logged
// failure.
func report(stdout, stderr io.Writer, pass *crawler.Pass) {
	summary := pass.Summary()
	fmt.Fprintf(stdout, "pass %s: %s, %d output(s), %d error(s) in %dms\n",
		summary.ID, summary.Status, summary.Outputs, summary.Errors, summary.DurationMs)
	for _, msg := range pass.Errors.Messages() {
		first, _, _ := strings.Cut(msg, "\n")
		fmt.Fprintf(stderr, "ERROR %s\n", first)
	}
}
