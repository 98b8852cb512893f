// Package diff implements "devbackup diff".
package diff

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/snapshot"
)

// Handler holds the dependencies "devbackup diff" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup diff <snapshot> [sub_path]".
func Command(h Handler) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <snapshot> [sub_path]",
		Short: "Show files added, removed, and modified between a snapshot and the live source tree",
		Args:  cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := h.Config()
			engine := snapshot.New(cfg.Destination, cfg.Sources, cfg.Excludes)
			var subPath string
			if len(args) > 1 {
				subPath = args[1]
			}
			result, err := engine.Diff(cmdcore.CommandContext(cmd), args[0], subPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range result.Added {
				fmt.Fprintf(out, "+ %s\n", p) //nolint:errcheck
			}
			for _, p := range result.Modified {
				fmt.Fprintf(out, "~ %s\n", p) //nolint:errcheck
			}
			for _, p := range result.Removed {
				fmt.Fprintf(out, "- %s\n", p) //nolint:errcheck
			}
			return nil
		},
	}
}
