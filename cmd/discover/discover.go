// Package discover implements "devbackup discover".
package discover

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/discovery"
	"github.com/devbackup/devbackup/smartdefaults"
)

// Handler holds the dependencies "devbackup discover" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup discover".
func Command(_ Handler) *cobra.Command {
	var write bool
	var outPath string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan for projects worth backing up and candidate destinations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := homedir.Dir()
			if err != nil {
				return err
			}

			cfg, err := smartdefaults.Synthesize(home)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "suggested destination: %s\n", cfg.Destination) //nolint:errcheck
			fmt.Fprintf(out, "discovered %d projects:\n", len(cfg.Sources))   //nolint:errcheck
			for _, src := range cfg.Sources {
				fmt.Fprintf(out, "  %s\n", src) //nolint:errcheck
			}

			destinations, err := discovery.DiscoverDestinations()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "candidate destinations:") //nolint:errcheck
			for _, d := range destinations {
				note := ""
				if d.SyncBreaksHardlinks {
					note = " (cloud-synced; breaks hard-link dedup)"
				}
				fmt.Fprintf(out, "  %3d  %-12s %s  %s free%s\n", //nolint:errcheck
					d.Score, d.Type, d.Path, units.HumanSize(float64(d.FreeBytes)), note)
			}

			if write {
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("marshal discovered config: %w", err)
				}
				if err := os.WriteFile(outPath, data, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				fmt.Fprintf(out, "wrote %s\n", outPath) //nolint:errcheck
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "persist the discovered configuration to --out")
	cmd.Flags().StringVar(&outPath, "out", "devbackup.yaml", "path to write the discovered configuration when --write is set")
	return cmd
}
