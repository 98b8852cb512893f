// Package orchestrator composes the Atomic Lock, Signal Handler, Space
// Validator, Snapshot Engine, and retention GC into one backup run (spec
// §4.7), and maps the result onto the process exit codes spec §7 defines.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devbackup/devbackup/config"
	"github.com/devbackup/devbackup/gc"
	"github.com/devbackup/devbackup/lock/atomiclock"
	"github.com/devbackup/devbackup/lock/flock"
	"github.com/devbackup/devbackup/logging"
	"github.com/devbackup/devbackup/progress"
	"github.com/devbackup/devbackup/runstate"
	"github.com/devbackup/devbackup/signalhandler"
	"github.com/devbackup/devbackup/snapshot"
	"github.com/devbackup/devbackup/space"
	"github.com/devbackup/devbackup/utils"
)

// lockAcquireTimeout bounds how long RunBackup waits for the Atomic Lock
// before giving up (spec §4.1).
const lockAcquireTimeout = 10 * time.Second

// DestinationError indicates the configured backup destination is unusable
// (spec §7).
type DestinationError struct {
	Path   string
	Reason string
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination %s: %s", e.Path, e.Reason)
}

// InvalidArgumentError indicates a caller-supplied argument (CLI flag, IPC
// request field) failed validation (spec §7).
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}

// Exit codes per spec §7.
const (
	ExitSuccess     = 0
	ExitConfig      = 1
	ExitLock        = 2
	ExitDestination = 3
	ExitSnapshot    = 4
	ExitSpace       = 5
)

// ExitCodeFor maps a RunBackup error to the process exit code spec §7
// assigns its kind. A termination signal's 128+signo is handled separately,
// inside signalhandler, since that path calls os.Exit directly.
func ExitCodeFor(err error) int {
	switch err.(type) {
	case nil:
		return ExitSuccess
	case *config.ConfigError:
		return ExitConfig
	case *atomiclock.LockError:
		return ExitLock
	case *DestinationError:
		return ExitDestination
	case *snapshot.SnapshotError:
		return ExitSnapshot
	case *space.SpaceError:
		return ExitSpace
	default:
		return ExitConfig
	}
}

// Orchestrator runs one full backup lifecycle for a single destination.
type Orchestrator struct {
	cfg        *config.Config
	lockMgr    *atomiclock.Manager
	sigHandler *signalhandler.Handler
	engine     *snapshot.Engine
	runState   *runstate.Store
}

// New creates an Orchestrator for cfg.
func New(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		lockMgr:    atomiclock.New(cfg.LockPath()),
		sigHandler: signalhandler.New(),
		engine:     snapshot.New(cfg.Destination, cfg.Sources, cfg.Excludes),
		runState:   runstate.NewStore(cfg.RunStateLockPath(), cfg.RunStatePath()),
	}
}

// Engine exposes the underlying Snapshot Engine for read-side commands
// (list, diff, search, restore, verify) that don't need the full lifecycle.
func (o *Orchestrator) Engine() *snapshot.Engine { return o.engine }

// RunBackup validates the destination, acquires the lock, checks free space,
// creates one snapshot (retrying per cfg.Retry), then releases the lock and
// runs retention GC. The lock is released exactly once regardless of which
// step failed.
func (o *Orchestrator) RunBackup(ctx context.Context, tracker progress.Tracker) (info *snapshot.Info, runErr error) {
	logger := logging.WithFunc("orchestrator.RunBackup")
	ranAt := time.Now().UTC()
	defer func() {
		o.recordRunState(ctx, ranAt, info, runErr)
	}()

	if err := validateDestination(o.cfg.Destination); err != nil {
		return nil, err
	}

	if err := o.lockMgr.Acquire(ctx, lockAcquireTimeout); err != nil {
		return nil, err
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := o.lockMgr.Release(); err != nil {
			logger.Errorf(ctx, "release lock: %v", err)
		}
	}
	defer release()

	o.sigHandler.Register("", o.lockMgr)
	defer o.sigHandler.Unregister()

	spaceResult, err := space.ValidateSpace(o.cfg.Destination, o.cfg.Sources, o.cfg.Excludes, space.DefaultBuffer, space.DefaultMinFree)
	if err != nil {
		return nil, err
	}
	if spaceResult.Warning != "" {
		logger.Warnf(ctx, "%s", spaceResult.Warning)
	}

	createdInfo, err := o.createWithRetry(ctx, tracker)
	if err != nil {
		return nil, err
	}

	// Retention GC re-acquires the lock itself via the flock file both the
	// Atomic Lock and a backup run's own start-up check share, so it's safe
	// to run only after this run's own lock is released.
	release()
	o.runRetentionGC(ctx)

	return createdInfo, nil
}

// recordRunState persists the outcome of a RunBackup call so status_request
// and "devbackup status" can answer without re-deriving it.
func (o *Orchestrator) recordRunState(ctx context.Context, ranAt time.Time, info *snapshot.Info, runErr error) {
	logger := logging.WithFunc("orchestrator.recordRunState")
	err := o.runState.Update(ctx, func(s *runstate.State) error {
		if runErr != nil {
			runstate.RecordFailure(s, ranAt, runErr)
		} else {
			runstate.RecordSuccess(s, ranAt, info.Name)
		}
		return nil
	})
	if err != nil {
		logger.Warnf(ctx, "persist run state: %v", err)
	}
}

func (o *Orchestrator) createWithRetry(ctx context.Context, tracker progress.Tracker) (*snapshot.Info, error) {
	logger := logging.WithFunc("orchestrator.createWithRetry")
	attempts := o.cfg.Retry.Count + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		info, err := o.engine.Create(ctx, o.sigHandler, tracker)
		if err == nil {
			return info, nil
		}
		lastErr = err
		if attempt < attempts-1 {
			logger.Warnf(ctx, "attempt %d/%d failed: %v, retrying in %ds", attempt+1, attempts, err, o.cfg.Retry.DelaySeconds)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(o.cfg.Retry.DelaySeconds) * time.Second):
			}
		}
	}
	return nil, lastErr
}

// runRetentionGC runs one GC cycle against the snapshot destination,
// coordinating with any concurrent backup run via the same lock file the
// Atomic Lock uses (flock is cross-process, so this is safe even though it
// isn't the same *atomiclock.Manager instance).
func (o *Orchestrator) runRetentionGC(ctx context.Context) {
	logger := logging.WithFunc("orchestrator.runRetentionGC")
	gcOrch := gc.New(snapshot.RetentionResolver(o.cfg.Retention))
	gcOrch.Register(o.engine.GCModule(flock.New(o.cfg.LockPath())))
	if err := gcOrch.Run(ctx); err != nil {
		logger.Warnf(ctx, "retention: %v", err)
	}
}

// validateDestination ensures the configured destination is (or can become)
// a writable directory, before any lock is acquired or staging dir created.
func validateDestination(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return &DestinationError{Path: path, Reason: "exists and is not a directory"}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return &DestinationError{Path: path, Reason: err.Error()}
	}
	if err := utils.EnsureDirs(path); err != nil {
		return &DestinationError{Path: path, Reason: err.Error()}
	}
	return nil
}
