package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/devbackup/devbackup/cmd"
	"github.com/devbackup/devbackup/orchestrator"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "devbackup").Error()) //nolint:errcheck
		os.Exit(orchestrator.ExitCodeFor(err))
	}
}
