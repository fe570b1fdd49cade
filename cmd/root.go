// Package cmd defines the sitegen CLI.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitegen/internal/app"
	"github.com/JakeFAU/sitegen/internal/config"
	"github.com/JakeFAU/sitegen/internal/crawler"
)

// Runner is what the commands need from the application. It lets tests
// swap in a fake.
type Runner interface {
	RunPass(ctx context.Context) (*crawler.Pass, error)
	Watch(ctx context.Context) error
	Serve(ctx context.Context, rebuild bool) error
	Close(ctx context.Context) error
}

type runnerKeyType struct{}

var runnerKey runnerKeyType

// newRunner is the application factory. It's a variable so tests can
// replace it.
var newRunner = func(ctx context.Context, cfg *config.Config) (Runner, error) {
	return app.Build(ctx, cfg)
}

type rootOptions struct {
	cfgFile string
	runner  Runner
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitegen",
		Short: "Render a compiled site bundle into static pages.",
		Long: `sitegen evaluates the render function exported by a compiled bundle,
calls it for every configured path and writes one page per path. With
crawling enabled, links found in rendered pages are rendered too.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			runner, err := newRunner(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			opts.runner = runner
			cmd.SetContext(context.WithValue(cmd.Context(), runnerKey, runner))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./sitegen.yaml or $HOME/.sitegen/sitegen.yaml)")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// applyFlagOverrides copies explicitly set subcommand flags into cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return fmt.Errorf("read --port: %w", err)
		}
		cfg.Server.Port = port
	}
	return cfg.Validate()
}

func runnerFrom(ctx context.Context) (Runner, error) {
	runner, ok := ctx.Value(runnerKey).(Runner)
	if !ok || runner == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return runner, nil
}

// Execute is the main entry point.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	// Close runs even when the command failed.
	if opts.runner != nil {
		if cerr := opts.runner.Close(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintf(stderr, "sitegen: close: %v\n", cerr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "sitegen: %v\n", err)
		return 1
	}
	return 0
}
