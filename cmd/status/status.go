// Package status implements "devbackup status".
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	"github.com/devbackup/devbackup/lock/atomiclock"
	"github.com/devbackup/devbackup/runstate"
	"github.com/devbackup/devbackup/snapshot"
)

// Handler holds the dependencies "devbackup status" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Summary is the printable, IPC-friendly payload behind status_request and
// health_request alike.
type Summary struct {
	snapshot.HealthResult
	LastRun runstate.State
}

// Command builds the cobra command for "devbackup status".
func Command(h Handler) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show destination health and the most recent run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := h.Config()
			summary, err := Report(cmdcore.CommandContext(cmd), cfg.Destination, cfg.LockPath(), cfg.RunStateLockPath(), cfg.RunStatePath())
			if err != nil {
				return err
			}
			Print(cmd, summary)
			return nil
		},
	}
}

// Report builds a Summary from a live Health check plus the persisted RunState.
func Report(ctx context.Context, destination, lockPath, runStateLockPath, runStatePath string) (*Summary, error) {
	engine := snapshot.New(destination, nil, nil)
	lockMgr := atomiclock.New(lockPath)
	health, err := engine.Health(ctx, lockMgr)
	if err != nil {
		return nil, err
	}

	summary := &Summary{HealthResult: *health}
	store := runstate.NewStore(runStateLockPath, runStatePath)
	if err := store.With(ctx, func(s *runstate.State) error {
		summary.LastRun = *s
		return nil
	}); err != nil {
		return nil, err
	}
	return summary, nil
}

// Print renders a Summary the way "devbackup status" shows it.
func Print(cmd *cobra.Command, s *Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "destination reachable: %v\n", s.DestinationReachable) //nolint:errcheck
	fmt.Fprintf(out, "snapshots: %d\n", s.SnapshotCount)                    //nolint:errcheck
	if s.LastSnapshot != nil {
		fmt.Fprintf(out, "last snapshot: %s (%s ago)\n", s.LastSnapshot.Name, s.LastSnapshotAge.Round(time.Second)) //nolint:errcheck
	}
	fmt.Fprintf(out, "free space: %s\n", units.HumanSize(float64(s.FreeSpaceBytes))) //nolint:errcheck
	if s.LockHeld {
		fmt.Fprintf(out, "lock held by pid %d\n", s.LockHolder) //nolint:errcheck
	} else {
		fmt.Fprintln(out, "lock free") //nolint:errcheck
	}
	if !s.LastRun.LastRunAt.IsZero() {
		fmt.Fprintf(out, "last run: %s at %s\n", outcome(s.LastRun.LastRunOK), s.LastRun.LastRunAt.Format(time.RFC3339)) //nolint:errcheck
		if !s.LastRun.LastRunOK {
			fmt.Fprintf(out, "last error: %s\n", s.LastRun.LastError) //nolint:errcheck
		}
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
