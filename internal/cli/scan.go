package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/modgate/internal/plugin"
	"github.com/dshills/modgate/internal/plugin/scan"
)

// ErrFlagged is returned by scan and check when a source is flagged.
var ErrFlagged = errors.New("flagged sources found")

func newScanCommand() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "scan <file|dir>...",
		Short: "Scan Lua sources for dangerous calls",
		Long: `Scan Lua sources for calls to exec, eval, load, loadstring, dofile,
exit and DeleteAccount, and for require("os"|"io"|"debug").f(...).
Directories are searched recursively for .lua files, following
symbolic links.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectSources(args)
			if err != nil {
				return err
			}

			s := scan.New()
			out := cmd.OutOrStdout()
			flagged := 0
			for _, path := range files {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				found, err := s.AnalyzeFile(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					flagged++
					continue
				}
				if items := scan.Sorted(found); len(items) > 0 {
					fmt.Fprintf(out, "%s: %s\n", path, strings.Join(items, ", "))
					flagged++
				} else if !quiet {
					fmt.Fprintf(out, "%s: ok\n", path)
				}
			}

			if flagged > 0 {
				return fmt.Errorf("%w: %d of %d files", ErrFlagged, flagged, len(files))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print flagged files only")
	return cmd
}

// collectSources expands directories to the .lua files beneath them,
// following symbolic links.
func collectSources(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := plugin.ListSources(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Strings(files)
	return files, nil
}
