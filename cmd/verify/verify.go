// Package verify implements "devbackup verify".
package verify

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/snapshot"
)

// Handler holds the dependencies "devbackup verify" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup verify <snapshot> [pattern]".
func Command(h Handler) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <snapshot> [pattern]",
		Short: "Recheck a snapshot's files against its manifest digests",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pattern string
			if len(args) > 1 {
				pattern = args[1]
			}
			cfg := h.Config()
			engine := snapshot.New(cfg.Destination, cfg.Sources, cfg.Excludes)
			result, err := engine.Verify(cmdcore.CommandContext(cmd), args[0], pattern)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range result.Missing {
				fmt.Fprintf(out, "missing: %s\n", p) //nolint:errcheck
			}
			for _, p := range result.Errors {
				fmt.Fprintf(out, "error: %s\n", p) //nolint:errcheck
			}
			for _, p := range result.Mismatch {
				fmt.Fprintf(out, "mismatch: %s\n", p) //nolint:errcheck
			}
			fmt.Fprintf(out, "checked %d files, ok=%v\n", result.Checked, result.OK()) //nolint:errcheck
			if !result.OK() {
				return fmt.Errorf("verification failed for snapshot %s", args[0])
			}
			return nil
		},
	}
}
