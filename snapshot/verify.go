package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// VerifyResult reports manifest-vs-disk integrity for one snapshot.
type VerifyResult struct {
	Snapshot string
	Checked  int
	Missing  []string
	Mismatch []string
	// Errors holds entries that could not be read for a reason other than
	// not existing (permission denied, I/O error) — kept distinct from
	// Missing, which means "absent from disk" (spec §4.4.8).
	Errors []string
}

// OK reports whether the snapshot passed verification with no issues.
func (r *VerifyResult) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatch) == 0 && len(r.Errors) == 0
}

// Verify recomputes the sha-256 of every manifest entry and compares it
// against the recorded digest (spec §4.4.8). When pattern is non-empty, only
// manifest entries whose base name matches the glob are checked.
func (e *Engine) Verify(ctx context.Context, name, pattern string) (*VerifyResult, error) {
	snap, err := e.Lookup(ctx, name)
	if err != nil {
		return nil, &SnapshotError{Op: "verify", Name: name, Reason: err}
	}
	manifest, err := loadManifest(snap.Path)
	if err != nil {
		return nil, &SnapshotError{Op: "verify", Name: name, Reason: err}
	}

	result := &VerifyResult{Snapshot: name}
	for _, fe := range manifest {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, filepath.Base(fe.Path)); !ok {
				continue
			}
		}
		result.Checked++
		path := filepath.Join(snap.Path, filepath.FromSlash(fe.Path))
		sum, err := hashFile(path)
		switch {
		case os.IsNotExist(err):
			result.Missing = append(result.Missing, fe.Path)
		case err != nil:
			result.Errors = append(result.Errors, fe.Path)
		case sum != fe.SHA256:
			result.Mismatch = append(result.Mismatch, fe.Path)
		}
	}
	return result, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path derived from manifest entry under snapshot root
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
