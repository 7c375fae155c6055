package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/modgate/internal/app"
)

// shutdownTimeout bounds unloading every unit on exit.
const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noAutoload, watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host, reading operator commands from stdin",
		Long: `Run the host. Each line read from stdin is dispatched as a message
from the host account; replies are written to stdout.

Operator commands:
  .load <name> [-f]          load a unit; -f skips the source scan
  .unload <name> [-r]        unload a unit; -r also deletes its files
  .loadcompat <name> [-f]    load a compat unit
  .unloadcompat <name> [-r]  unload a compat unit
  .help [name]               show unit commands
  .list                      show active units`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if noAutoload {
				cfg.Autoload = false
			}
			if watch {
				cfg.Watch = true
			}

			logger := opts.logger(cmd, cfg)
			defer func() { _ = logger.Sync() }()

			host, err := app.New(app.Options{
				Config:  cfg,
				Logger:  logger,
				Version: opts.build.Version,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := host.Shutdown(sctx); err != nil {
					logger.Warn("shutdown: %v", err)
				}
			}()

			if err := host.Start(ctx); err != nil {
				return err
			}
			logger.Info("serving, %d units active", host.Loader().Registry().Len())
			return host.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&noAutoload, "no-autoload", false, "do not load units at startup")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the unit directories")
	return cmd
}
