// Package smartdefaults synthesizes a starting Configuration from what
// Auto-Discovery finds, for first-run setup without a config file (spec §2,
// §4.5: "Smart Defaults").
package smartdefaults

import (
	"fmt"

	"github.com/devbackup/devbackup/config"
	"github.com/devbackup/devbackup/discovery"
)

// Synthesize scans home for projects and destinations and returns a
// best-guess Config. Callers still need to call Validate/write it out;
// Synthesize never touches disk itself beyond what DiscoverProjects and
// DiscoverDestinations read.
func Synthesize(home string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	d := discovery.New()
	projects, err := d.DiscoverProjects(home, cfg.Excludes, discovery.DefaultMaxDepth)
	if err != nil {
		return nil, fmt.Errorf("discover projects: %w", err)
	}
	for _, p := range projects {
		cfg.Sources = append(cfg.Sources, p.Path)
	}

	destinations, err := discovery.DiscoverDestinations()
	if err != nil {
		return nil, fmt.Errorf("discover destinations: %w", err)
	}
	if len(destinations) > 0 {
		best := destinations[0]
		cfg.Destination = best.Path
	}

	return cfg, nil
}
