package snapshot

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/devbackup/devbackup/config"
	"github.com/devbackup/devbackup/gc"
	"github.com/devbackup/devbackup/lock"
	"github.com/devbackup/devbackup/utils"
)

const retentionModuleName = "snapshot-retention"

// retentionSnapshot is what gc.Module.ReadDB hands the Resolver: just the
// committed names and timestamps, read once under lock.
type retentionSnapshot struct {
	names []string
	times map[string]time.Time
}

// GCModule wires the Snapshot Engine into the generic gc.Orchestrator
// (spec §4.4.9): one module, locked by the given locker. The orchestrator
// passes a lock/flock.Lock on the Atomic Lock's own lock file, so GC never
// races a commit in progress.
func (e *Engine) GCModule(locker lock.Locker) gc.Module {
	return gc.Module{
		Name:   retentionModuleName,
		Locker: locker,
		ReadDB: func(ctx context.Context) (gc.Snapshot, error) {
			infos, err := e.List(ctx)
			if err != nil {
				return nil, err
			}
			snap := retentionSnapshot{times: make(map[string]time.Time, len(infos))}
			for _, info := range infos {
				snap.names = append(snap.names, info.Name)
				snap.times[info.Name] = info.CreatedAt
			}
			return snap, nil
		},
		Collect: func(ctx context.Context, ids []string) error {
			return e.removeSnapshots(ctx, ids)
		},
	}
}

// RetentionResolver builds a gc.Resolver applying an {hourly, daily, weekly}
// policy (spec §4.4.9): keep the newest `hourly` snapshots outright, then one
// per day for `daily` days and one per week for `weekly` weeks, deleting
// everything else. The retained sets are unioned, so a snapshot kept by more
// than one bucket is still kept exactly once.
func RetentionResolver(policy config.RetentionConfig) gc.Resolver {
	return func(snapshots map[string]gc.Snapshot) map[string][]string {
		raw, ok := snapshots[retentionModuleName]
		if !ok {
			return nil
		}
		snap, ok := raw.(retentionSnapshot)
		if !ok {
			return nil
		}

		names := append([]string(nil), snap.names...)
		sort.Slice(names, func(i, j int) bool { return snap.times[names[i]].After(snap.times[names[j]]) })

		retained := make(map[string]struct{}, len(names))
		// The newest snapshot is always retained regardless of policy counts
		// (Testable Property 10): a {0,0,0} policy must not delete it.
		keepNewest(names, 1, retained)
		keepNewest(names, policy.Hourly, retained)
		keepBucketed(names, snap.times, policy.Daily, 24*time.Hour, retained)   //nolint:mnd
		keepBucketed(names, snap.times, policy.Weekly, 7*24*time.Hour, retained) //nolint:mnd

		toDelete := utils.FilterUnreferenced(names, retained)
		if len(toDelete) == 0 {
			return nil
		}
		return map[string][]string{retentionModuleName: toDelete}
	}
}

// keepNewest retains the first n names (names is newest-first).
func keepNewest(names []string, n int, retained map[string]struct{}) {
	for i := 0; i < n && i < len(names); i++ {
		retained[names[i]] = struct{}{}
	}
}

// keepBucketed retains one name per bucket of width, for up to n buckets,
// choosing the newest snapshot in each bucket (names is newest-first).
func keepBucketed(names []string, times map[string]time.Time, n int, width time.Duration, retained map[string]struct{}) {
	if n <= 0 || len(names) == 0 {
		return
	}
	now := times[names[0]]
	seen := make(map[int64]bool, n)
	for _, name := range names {
		bucket := int64(now.Sub(times[name]) / width)
		if bucket >= int64(n) {
			continue
		}
		if seen[bucket] {
			continue
		}
		seen[bucket] = true
		retained[name] = struct{}{}
	}
}

func (e *Engine) removeSnapshots(ctx context.Context, names []string) error {
	targets := make(map[string]struct{}, len(names))
	for _, name := range names {
		targets[name] = struct{}{}
	}
	errs := utils.RemoveMatching(ctx, e.destination, func(entry os.DirEntry) bool {
		_, ok := targets[entry.Name()]
		return ok
	})
	if len(errs) > 0 {
		return fmt.Errorf("remove snapshots: %w", errs[0])
	}
	return nil
}
