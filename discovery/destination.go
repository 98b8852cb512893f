package discovery

import (
	"os"
	"path/filepath"
	"sort"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/devbackup/devbackup/space"
)

// DestinationType classifies a candidate backup destination.
type DestinationType string

const (
	TypeLocalVolume DestinationType = "local_volume"
	TypeCloudDrive  DestinationType = "cloud_drive"
	TypeHomeFolder  DestinationType = "home_folder"
)

// baseScore is the per-type component of a candidate's score (spec §4.5
// supplement: "base[type] + floor(free/total*10), clamped to [1,100]").
var baseScore = map[DestinationType]int{
	TypeLocalVolume: 50,
	TypeCloudDrive:  20,
	TypeHomeFolder:  30,
}

// Candidate is one scored destination discovered on the system.
type Candidate struct {
	Path                string
	Type                DestinationType
	Score               int
	FreeBytes           int64
	TotalBytes          int64
	SyncBreaksHardlinks bool
}

// cloudProvider is a well-known cloud-sync folder location.
type cloudProvider struct {
	relPath             string
	syncBreaksHardlinks bool
}

// cloudProviders lists cloud-drive paths relative to $HOME. icloud syncs by
// re-uploading changed files rather than preserving inodes, which defeats
// hard-link dedup across snapshots — flagged so classify demotes its score
// (spec §9 open question).
var cloudProviders = []cloudProvider{
	{relPath: filepath.Join("Library", "Mobile Documents", "com~apple~CloudDocs"), syncBreaksHardlinks: true},
	{relPath: "Dropbox", syncBreaksHardlinks: false},
	{relPath: "Google Drive", syncBreaksHardlinks: false},
	{relPath: "OneDrive", syncBreaksHardlinks: false},
}

// mountRoots are directories under which OS-mounted volumes appear as
// subdirectories.
var mountRoots = []string{"/Volumes", "/media", "/mnt"}

// DiscoverDestinations scores every candidate backup destination found on
// the system, highest score first (spec §4.5).
func DiscoverDestinations() ([]Candidate, error) {
	var candidates []Candidate

	for _, root := range mountRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			candidates = append(candidates, classify(filepath.Join(root, e.Name()), TypeLocalVolume, false))
		}
	}

	home, err := homedir.Dir()
	if err == nil {
		for _, provider := range cloudProviders {
			path := filepath.Join(home, provider.relPath)
			if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
				candidates = append(candidates, classify(path, TypeCloudDrive, provider.syncBreaksHardlinks))
			}
		}
		for _, name := range []string{"Backups", "backup"} {
			path := filepath.Join(home, name)
			if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
				candidates = append(candidates, classify(path, TypeHomeFolder, false))
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	return candidates, nil
}

func classify(path string, t DestinationType, syncBreaksHardlinks bool) Candidate {
	available, total, err := space.FreeSpace(path)
	score := baseScore[t]
	if err == nil && total > 0 {
		score += int(available * 10 / total) //nolint:mnd
	}
	if syncBreaksHardlinks {
		score -= 15 //nolint:mnd // demote: every snapshot re-uploads in full under cloud sync
	}
	switch {
	case score > 100: //nolint:mnd
		score = 100
	case score < 1:
		score = 1
	}
	return Candidate{
		Path: path, Type: t, Score: score,
		FreeBytes: available, TotalBytes: total,
		SyncBreaksHardlinks: syncBreaksHardlinks,
	}
}
