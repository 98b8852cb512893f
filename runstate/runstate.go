// Package runstate persists the outcome of the most recent backup run, so
// status_request and "devbackup status" can answer instantly without
// re-deriving it from a live Snapshot Engine walk.
package runstate

import (
	"time"

	jsonstore "github.com/devbackup/devbackup/storage/json"
)

// State is the top-level structure stored in run-state.json.
type State struct {
	LastRunAt    time.Time `json:"last_run_at"`
	LastRunOK    bool      `json:"last_run_ok"`
	LastError    string    `json:"last_error,omitempty"`
	LastSnapshot string    `json:"last_snapshot,omitempty"`
}

// Store is a flock-protected read/modify/write handle on run-state.json.
type Store = jsonstore.Store[State]

// NewStore creates a Store backed by lockPath and filePath.
func NewStore(lockPath, filePath string) *Store {
	return jsonstore.New[State](lockPath, filePath)
}

// RecordSuccess updates State after a successful backup run.
func RecordSuccess(s *State, ranAt time.Time, snapshotName string) {
	s.LastRunAt = ranAt
	s.LastRunOK = true
	s.LastError = ""
	s.LastSnapshot = snapshotName
}

// RecordFailure updates State after a failed backup run.
func RecordFailure(s *State, ranAt time.Time, err error) {
	s.LastRunAt = ranAt
	s.LastRunOK = false
	s.LastError = err.Error()
}
