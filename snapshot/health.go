package snapshot

import (
	"context"
	"os"
	"time"

	"github.com/devbackup/devbackup/space"
)

// lockStatus is the subset of atomiclock.Manager Health needs, kept narrow
// so this package doesn't depend on lock/atomiclock directly.
type lockStatus interface {
	IsLocked() bool
	HolderPID() (int, bool)
}

// HealthResult is the supplemental health_request payload (spec §4.6 supplement).
type HealthResult struct {
	DestinationReachable bool
	SnapshotCount         int
	LastSnapshot          *Info
	LastSnapshotAge       time.Duration
	LockHeld              bool
	LockHolder            int
	FreeSpaceBytes        int64
}

// Health reports a point-in-time summary used by both the status_request and
// health_request IPC handlers.
func (e *Engine) Health(ctx context.Context, locker lockStatus) (*HealthResult, error) {
	result := &HealthResult{}

	if _, statErr := os.Stat(e.destination); statErr == nil {
		result.DestinationReachable = true
	}

	infos, err := e.List(ctx)
	if err == nil {
		result.SnapshotCount = len(infos)
		if len(infos) > 0 {
			last := infos[len(infos)-1]
			result.LastSnapshot = &last
			result.LastSnapshotAge = time.Since(last.CreatedAt)
		}
	}

	if available, _, spaceErr := space.FreeSpace(e.destination); spaceErr == nil {
		result.FreeSpaceBytes = available
	}

	if locker != nil {
		result.LockHeld = locker.IsLocked()
		if holder, ok := locker.HolderPID(); ok {
			result.LockHolder = holder
		}
	}
	return result, nil
}
