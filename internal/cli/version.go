package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := opts.build
			if asJSON {
				out, err := json.MarshalIndent(map[string]string{
					"version": b.Version,
					"commit":  b.Commit,
					"date":    b.Date,
				}, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling version info: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "modgate version %s (commit: %s, built: %s)\n", b.Version, b.Commit, b.Date)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print version info as JSON")
	return cmd
}
