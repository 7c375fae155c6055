package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/modgate/internal/config"
	"github.com/dshills/modgate/internal/logging"
)

// BuildInfo is injected via ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	build      BuildInfo
	configFile string
	logLevel   string
}

// NewRootCommand creates the modgate command tree.
func NewRootCommand(build BuildInfo) *cobra.Command {
	opts := &rootOptions{build: build}

	root := &cobra.Command{
		Use:   "modgate",
		Short: "Load sandboxed Lua units into a message host",
		Long: `modgate loads script units from a modules directory and a compat
directory, scans their sources for dangerous calls before running them and
routes inbound messages to the handlers they export.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./modgate.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level")

	root.AddCommand(
		newServeCommand(opts),
		newScanCommand(),
		newListCommand(opts),
		newCheckCommand(opts),
		newRemoveCommand(opts),
		newOwnersCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute(version, commit, date string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(BuildInfo{Version: version, Commit: commit, Date: date})
	return root.ExecuteContext(ctx)
}

// loadConfig reads the configuration named by --config.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, file, err := config.Load(cmd.Context(), config.LoadOptions{File: o.configFile})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if file != "" {
		o.logger(cmd, cfg).Debug("using config %s", file)
	}
	return cfg, nil
}

// logger writes to the command's error stream.
func (o *rootOptions) logger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	lc := cfg.Logging()
	lc.Output = cmd.ErrOrStderr()
	return logging.New(lc)
}
