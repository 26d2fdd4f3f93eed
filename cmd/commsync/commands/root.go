package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/pkg/cli"
	"github.com/faithflow/commsync/pkg/commsync"
)

var (
	// Global flags
	configPath   string
	contextName  string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "commsync",
	Short: "Real-time community chat sync client",
	Long: `commsync - keep community chat timelines in sync over MQTT.

A context names a tenant, a signed-in member, a broker URL and a REST
backend. Contexts are stored in ~/.commsync/config.yaml.

Examples:
  # Create a context and make it current
  commsync config set-context dev --tenant church-a \
    --member-id m1 --member-name Grace \
    --broker tcp://localhost:1883 --api http://localhost:8080 --token TOKEN

  # Run a local broker
  commsync broker --tcp :1883 --ws :8083 --tenant church-a

  # Watch a community and send to it
  commsync watch c1
  commsync send c1 --text "Hello"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.commsync/config.yaml)")
	pf.StringVarP(&contextName, "context", "c", "", "context to use (default: current context)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml, json or text")
}

// loadConfig loads the CLI config file.
func loadConfig() (*cli.Config, error) {
	return cli.LoadConfig(configPath)
}

// resolveContext returns the context selected by --context or the current
// one.
func resolveContext() (*cli.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		return nil, fmt.Errorf("%w (create one with: commsync config set-context <name>)", err)
	}
	return ctx, nil
}

// newLogger writes text logs to the command's stderr, at debug level with
// --verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// connect opens a sync client for the resolved context.
func connect(cmd *cobra.Command) (*commsync.Client, error) {
	ctx, err := resolveContext()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd)
	logger.Debug("connecting", "context", ctx.Name, "broker", ctx.Broker.URL, "api", ctx.API.BaseURL)
	return commsync.New(cmd.Context(), ctx.Config, commsync.WithLogger(logger))
}

// output prints result in the --output format.
func output(cmd *cobra.Command, result any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{Format: format, Writer: cmd.OutOrStdout()})
}
