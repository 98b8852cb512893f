// Package serve implements "devbackup serve": the long-running scheduler and
// Local IPC Server process (spec §4.6, §4.7).
package serve

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cmdcore "github.com/devbackup/devbackup/cmd/core"
	cmdstatus "github.com/devbackup/devbackup/cmd/status"
	"github.com/devbackup/devbackup/config"
	"github.com/devbackup/devbackup/ipc"
	"github.com/devbackup/devbackup/logging"
	"github.com/devbackup/devbackup/orchestrator"
	"github.com/devbackup/devbackup/progress"
)

// Handler holds the dependencies "devbackup serve" needs.
type Handler struct {
	cmdcore.BaseHandler
}

// Command builds the cobra command for "devbackup serve".
func Command(h Handler) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and Local IPC Server in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := h.Config()
			orch := orchestrator.New(cfg)
			b := &backend{cfg: cfg, orch: orch}

			server := ipc.New(cfg.SocketPath(), b)
			if err := server.Listen(); err != nil {
				return err
			}
			defer server.Close() //nolint:errcheck

			group, ctx := errgroup.WithContext(cmdcore.CommandContext(cmd))
			group.Go(func() error { return server.Serve(ctx) })
			group.Go(func() error { return runScheduler(ctx, cfg, orch) })
			return group.Wait()
		},
	}
}

// backend answers ipc.Backend requests against this process's orchestrator.
type backend struct {
	cfg  *config.Config
	orch *orchestrator.Orchestrator
}

func (b *backend) Status(ctx context.Context) (any, error) {
	return cmdstatus.Report(ctx, b.cfg.Destination, b.cfg.LockPath(), b.cfg.RunStateLockPath(), b.cfg.RunStatePath())
}

func (b *backend) Health(ctx context.Context) (any, error) {
	return cmdstatus.Report(ctx, b.cfg.Destination, b.cfg.LockPath(), b.cfg.RunStateLockPath(), b.cfg.RunStatePath())
}

func (b *backend) Trigger(ctx context.Context) (any, error) {
	return b.orch.RunBackup(ctx, progress.Nop)
}

func (b *backend) Browse(ctx context.Context, path string) (any, error) {
	if path == "" {
		return b.orch.Engine().List(ctx)
	}
	return b.orch.Engine().Lookup(ctx, path)
}

// runScheduler triggers a backup run every Scheduler.IntervalSeconds until
// ctx is cancelled (spec §5).
func runScheduler(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) error {
	interval := time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	logger := logging.WithFunc("serve.scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := orch.RunBackup(ctx, progress.Nop); err != nil {
				logger.Errorf(ctx, "scheduled backup failed: %v", err)
			}
		}
	}
}
