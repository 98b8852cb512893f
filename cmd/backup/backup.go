// Package backup implements "devbackup backup".
package backup

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/orchestrator"
	"github.com/devbackup/devbackup/progress"
)

// Handler holds the dependencies "devbackup backup" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup backup".
func Command(h Handler) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create one incremental snapshot now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmdcore.CommandContext(cmd)
			cfg := h.Config()
			orch := orchestrator.New(cfg)

			tracker := progress.Nop
			if !quiet {
				tracker = progress.NewTracker(func(e progress.Event) {
					if e.CurrentFile != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", e.Phase, e.CurrentFile) //nolint:errcheck
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%-12s\n", e.Phase) //nolint:errcheck
					}
				})
			}

			info, err := orch.RunBackup(ctx, tracker)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d files, %s\n", //nolint:errcheck
				info.Name, info.FileCount, units.HumanSize(float64(info.TotalSize)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress per-file progress output")
	return cmd
}
