// Package gc provides a generic, lock-aware garbage-collection orchestrator.
// devbackup has exactly one registered module (snapshot retention), but the
// module/resolver split keeps retention analysis (pure, no I/O) separate from
// the lock-guarded read and collect phases.
package gc

import (
	"context"
	"fmt"
	"strings"

	"github.com/devbackup/devbackup/lock"
	"github.com/devbackup/devbackup/logging"
)

// Snapshot is the opaque state read from a module while the lock is held.
// Each module's ReadDB returns its own concrete type; Resolver sees them as any.
type Snapshot = any

// Module describes a GC participant: something that can report its current
// state and delete named items from it, both under its own lock.
type Module struct {
	Name string

	// Locker is used by GC to coordinate with active operations (e.g. a
	// backup run in progress). TryLock returning false means the module is
	// busy; GC skips it and retries on the next cycle.
	Locker lock.Locker

	// ReadDB reads the module's current index state.
	// Called while the lock is held — must not re-acquire it.
	ReadDB func(ctx context.Context) (Snapshot, error)

	// Collect removes the given resource IDs.
	// Called while the lock is held — must not re-acquire it.
	Collect func(ctx context.Context, ids []string) error
}

// Resolver analyses snapshots from all successfully-read modules and returns
// the resource IDs to delete per module.
// key = Module.Name, value = IDs to pass to that module's Collect.
type Resolver func(snapshots map[string]Snapshot) map[string][]string

// Orchestrator runs GC across all registered modules.
type Orchestrator struct {
	modules  []Module
	resolver Resolver
}

// New creates an Orchestrator with the given cross-module Resolver.
func New(resolver Resolver) *Orchestrator {
	return &Orchestrator{resolver: resolver}
}

// Register adds a module to the GC cycle.
func (o *Orchestrator) Register(m Module) {
	o.modules = append(o.modules, m)
}

// Run executes one GC cycle:
//
//  1. For each module: TryLock → ReadDB → Unlock (skip if busy).
//  2. Resolver analyses all collected snapshots and returns deletion targets.
//  3. For each module with targets: TryLock → Collect → Unlock (skip if busy).
//
// Step 3 re-acquires the lock rather than holding it from step 1 to keep
// lock contention minimal. The window is safe: GC is conservative (it only
// deletes the IDs the resolver picked from the state read in step 1), so an
// item added between the two phases is never in the deletion set.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := logging.WithFunc("gc.Run")
	snapshots := make(map[string]Snapshot, len(o.modules))

	// Phase 1: read each module's state under lock.
	for _, m := range o.modules {
		ok, err := m.Locker.TryLock(ctx)
		if err != nil {
			logger.Warnf(ctx, "lock %s: %v", m.Name, err)
			continue
		}
		if !ok {
			logger.Infof(ctx, "skip %s: busy, will retry next cycle", m.Name)
			continue
		}
		snap, readErr := m.ReadDB(ctx)
		m.Locker.Unlock(ctx) //nolint:errcheck
		if readErr != nil {
			logger.Warnf(ctx, "read %s: %v", m.Name, readErr)
			continue
		}
		snapshots[m.Name] = snap
	}

	// Phase 2: cross-module analysis — no locks held.
	targets := o.resolver(snapshots)
	if len(targets) == 0 {
		return nil
	}

	// Phase 3: collect under lock, skipping busy modules.
	var errs []string
	for _, m := range o.modules {
		ids := targets[m.Name]
		if len(ids) == 0 {
			continue
		}
		ok, err := m.Locker.TryLock(ctx)
		if err != nil || !ok {
			logger.Infof(ctx, "skip collect %s: busy, will retry next cycle", m.Name)
			continue
		}
		collectErr := m.Collect(ctx, ids)
		m.Locker.Unlock(ctx) //nolint:errcheck
		if collectErr != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", m.Name, collectErr))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("gc errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
