// Package restore implements "devbackup restore".
package restore

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/snapshot"
)

// Handler holds the dependencies "devbackup restore" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup restore <snapshot> <path>".
func Command(h Handler) *cobra.Command {
	var destDir string
	cmd := &cobra.Command{
		Use:   "restore <snapshot> <path>",
		Short: "Recover a file or directory from a snapshot",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := h.Config()
			engine := snapshot.New(cfg.Destination, cfg.Sources, cfg.Excludes)
			restoredTo, err := engine.Restore(cmdcore.CommandContext(cmd), args[0], args[1], destDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored to %s\n", restoredTo) //nolint:errcheck
			return nil
		},
	}
	cmd.Flags().StringVar(&destDir, "dest", "", "destination directory (default: ~/Desktop/Recovered Files)")
	return cmd
}
