package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/modgate/internal/roster"
)

func newOwnersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owners",
		Short: "Manage the owner roster",
		Long: `Manage the owner roster. Owners may run operator commands from
other accounts. The roster is locked while serve is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <id>...",
		Short: "Add owners",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRoster(cmd, func(r *roster.Roster) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := r.Add(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Added %d\n", id)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove owners",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRoster(cmd, func(r *roster.Roster) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := r.Remove(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d\n", id)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List owners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRoster(cmd, func(r *roster.Roster) error {
				owners, err := r.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(owners) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No owners.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tADDED")
				for _, o := range owners {
					fmt.Fprintf(w, "%d\t%s\n", o.ID, o.Added.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	})
	return cmd
}

// withRoster opens the configured roster for the duration of fn.
func (o *rootOptions) withRoster(cmd *cobra.Command, fn func(*roster.Roster) error) (err error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	r, err := roster.Open(cfg.RosterPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(r)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
