// Package cmd wires the devbackup CLI surface (spec §4.7, §6): backup,
// status, list, diff, search, restore, verify, discover, serve.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cmdbackup "github.com/devbackup/devbackup/cmd/backup"
	cmdcore "github.com/devbackup/devbackup/cmd/core"
	cmddiff "github.com/devbackup/devbackup/cmd/diff"
	cmddiscover "github.com/devbackup/devbackup/cmd/discover"
	cmdlist "github.com/devbackup/devbackup/cmd/list"
	cmdrestore "github.com/devbackup/devbackup/cmd/restore"
	cmdsearch "github.com/devbackup/devbackup/cmd/search"
	cmdserve "github.com/devbackup/devbackup/cmd/serve"
	cmdstatus "github.com/devbackup/devbackup/cmd/status"
	cmdverify "github.com/devbackup/devbackup/cmd/verify"
	"github.com/devbackup/devbackup/config"
	"github.com/devbackup/devbackup/logging"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "devbackup",
		Short:        "Incremental backups for developer project directories",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	confProvider := func() *config.Config { return conf }
	base := cmdcore.BaseHandler{ConfProvider: confProvider}

	cmd.AddCommand(cmdbackup.Command(cmdbackup.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdstatus.Command(cmdstatus.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdlist.Command(cmdlist.Handler{BaseHandler: base}))
	cmd.AddCommand(cmddiff.Command(cmddiff.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdsearch.Command(cmdsearch.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdrestore.Command(cmdrestore.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdverify.Command(cmdverify.Handler{BaseHandler: base}))
	cmd.AddCommand(cmddiscover.Command(cmddiscover.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdserve.Command(cmdserve.Handler{BaseHandler: base}))

	return cmd
}()

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func initConfig() error {
	var err error
	conf, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	return logging.Setup(conf.Logging)
}
