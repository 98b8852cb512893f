// Package core holds the small pieces every devbackup subcommand package
// shares: a way to reach the loaded Config and the command's context.
package core

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/devbackup/devbackup/config"
)

// ConfProvider returns the Config loaded by the root command's
// PersistentPreRunE. It is a function rather than a plain field so
// subcommand packages are built (and their Command() functions called)
// before the root command has parsed flags and loaded configuration.
type ConfProvider func() *config.Config

// BaseHandler is embedded by every subcommand package's own Handler type.
type BaseHandler struct {
	ConfProvider ConfProvider
}

// Config returns the current Config. Must not be called before the root
// command's PersistentPreRunE has run.
func (b BaseHandler) Config() *config.Config { return b.ConfProvider() }

// CommandContext returns cmd's context, cancelled on SIGINT/SIGTERM by
// cmd.Execute (spec §4.2 coordinates with the in-process signal handler
// cmd/backup installs for the duration of a run).
func CommandContext(cmd *cobra.Command) context.Context { return cmd.Context() }
