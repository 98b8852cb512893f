// Package search implements "devbackup search".
package search

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/snapshot"
)

// Handler holds the dependencies "devbackup search" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup search <pattern>".
func Command(h Handler) *cobra.Command {
	var snapshotName string

	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "Find files matching pattern across every snapshot, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := h.Config()
			engine := snapshot.New(cfg.Destination, cfg.Sources, cfg.Excludes)
			results, err := engine.Search(cmdcore.CommandContext(cmd), args[0], snapshotName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s\t%s\t%s\n", r.Snapshot, r.Path, units.HumanSize(float64(r.Size))) //nolint:errcheck
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotName, "snapshot", "", "scope the search to one snapshot")
	return cmd
}
