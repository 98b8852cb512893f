// Package list implements "devbackup list".
package list

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/snapshot"
)

// narrowWidth is the terminal width below which the CREATED column drops to
// a date-only format to keep rows from wrapping.
const narrowWidth = 80

// Handler holds the dependencies "devbackup list" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup list".
func Command(h Handler) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List committed snapshots, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := h.Config()
			engine := snapshot.New(cfg.Destination, cfg.Sources, cfg.Excludes)
			infos, err := engine.List(cmdcore.CommandContext(cmd))
			if err != nil {
				return err
			}
			printTable(cmd, infos)
			return nil
		},
	}
}

func printTable(cmd *cobra.Command, infos []snapshot.Info) {
	dateFormat := "2006-01-02 15:04:05"
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width < narrowWidth {
		dateFormat = "2006-01-02"
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0) //nolint:mnd
	defer w.Flush()                                              //nolint:errcheck
	fmt.Fprintln(w, "NAME\tCREATED\tFILES\tSIZE")                 //nolint:errcheck
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", //nolint:errcheck
			info.Name, info.CreatedAt.Format(dateFormat), info.FileCount, units.HumanSize(float64(info.TotalSize)))
	}
}
