package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var watchInputs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the site and serve it for preview",
		Long: `Runs one pass and serves its outputs over HTTP, together with
/healthz and /metrics. With --watch, input changes trigger new passes and
the server switches to their outputs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := runnerFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runner.Serve(cmd.Context(), watchInputs)
		},
	}
	cmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&watchInputs, "watch", false, "rebuild when the bundle changes")
	return cmd
}
