package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/modgate/internal/app"
	"github.com/dshills/modgate/internal/plugin"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List units found on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			descs, err := cfg.Layout().Discover()
			if err != nil {
				return err
			}
			if len(descs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No units found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tVERSION\tSTATUS")
			for _, d := range descs {
				version := "-"
				if d.Manifest != nil && d.Manifest.Version != "" {
					version = d.Manifest.Version
				}
				status := "ok"
				if d.Err != nil {
					status = d.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Kind, version, status)
			}
			return w.Flush()
		},
	}
}

// noOwners is the roster of offline tools: nobody is an owner and there is
// nothing to close. It keeps check from locking the serve roster.
type noOwners struct{}

func (noOwners) IsOwner(int64) bool { return false }
func (noOwners) Close() error       { return nil }

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var compat bool

	cmd := &cobra.Command{
		Use:   "check <name>",
		Short: "Validate, scan and trial-load a unit without keeping it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			host, err := app.New(app.Options{
				Config:  cfg,
				Logger:  opts.logger(cmd, cfg),
				Owners:  noOwners{},
				Version: opts.build.Version,
			})
			if err != nil {
				return err
			}

			name := args[0]
			info, err := host.Loader().Check(cmd.Context(), kindOf(compat), name)
			var serr *plugin.SecurityError
			switch {
			case errors.As(err, &serr):
				fmt.Fprintf(cmd.OutOrStdout(), "%s: flagged %s\n", name, strings.Join(serr.Items, ", "))
				return fmt.Errorf("%w: %s", ErrFlagged, name)
			case err != nil:
				return err
			}

			commands := "none"
			if len(info.Commands) > 0 {
				commands = strings.Join(info.Commands, ", ")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d handlers, commands: %s)\n", name, info.Handlers, commands)
			return nil
		},
	}
	cmd.Flags().BoolVar(&compat, "compat", false, "check a compat unit")
	return cmd
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	var compat bool

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a unit's files",
		Long: `Delete a unit's files. Use the .unload -r operator command instead
while the host is running; remove does not touch a running host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			name := args[0]
			for _, p := range cfg.Protected {
				if p == name {
					return &plugin.ProtectedError{Name: name}
				}
			}

			d, err := cfg.Layout().Locate(kindOf(compat), name)
			if err != nil {
				return err
			}
			if err := plugin.Remove(d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", d.Target())
			return nil
		},
	}
	cmd.Flags().BoolVar(&compat, "compat", false, "remove a compat unit")
	return cmd
}

func kindOf(compat bool) plugin.Kind {
	if compat {
		return plugin.KindCompat
	}
	return plugin.KindStandard
}
