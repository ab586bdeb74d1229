// Package cli implements the chatsync command line: the long-running sync
// service and one-shot commands that operate on the local store.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/juniormsyoka/med-assistant-front-sub000/internal/app"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
)

// Build metadata, set from main.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	config string
	db     string
	addr   string
	getenv func(string) string
}

// Execute runs the root command against os.Args.
func Execute() {
	_ = godotenv.Load(".env")
	root := newRootCmd(os.Getenv)
	err := root.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	o := &rootOptions{getenv: getenv}
	root := &cobra.Command{
		Use:   "chatsync",
		Short: "Local-first chat message sync engine",
		Long: `chatsync keeps a durable local copy of chat conversations and
reconciles it with a remote message store: outgoing messages are written
locally first and pushed by the outbox once the remote is reachable.

One-shot commands open the local store directly; stop a running service
before using them on the same store path.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&o.config, "config", "c", "", "config file path (env CHATSYNC_CONFIG)")
	pf.StringVar(&o.db, "db", "", "local store path")
	pf.StringVar(&o.addr, "addr", "", "local API address host:port")

	root.AddCommand(
		newRunCmd(o),
		newSendCmd(o),
		newHistoryCmd(o),
		newEditCmd(o),
		newDeleteCmd(o),
		newRestoreCmd(o),
		newReadCmd(o),
		newSyncCmd(o),
		newOutboxCmd(o),
		newResetCmd(o),
		newInspectCmd(o),
	)
	return root
}

// effective resolves and validates the layered config.
func (o *rootOptions) effective(cmd *cobra.Command) (config.EffectiveConfigResult, error) {
	flags := config.Flags{
		Config: o.config,
		DB:     o.db,
		Addr:   o.addr,
		Set: map[string]bool{
			"config": cmd.Flags().Changed("config"),
			"db":     cmd.Flags().Changed("db"),
			"addr":   cmd.Flags().Changed("addr"),
		},
	}
	eff, err := config.LoadEffectiveConfig(flags, o.getenv)
	if err != nil {
		return eff, err
	}
	if err := config.ValidateConfig(eff); err != nil {
		return eff, err
	}
	return eff, nil
}

// withApp builds the app for a one-shot command, logging to stderr so
// command output stays clean, and shuts it down afterwards.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, eff config.EffectiveConfigResult) error) error {
	eff, err := o.effective(cmd)
	if err != nil {
		return err
	}
	sink := o.getenv("CHATSYNC_LOG_SINK")
	if sink == "" {
		sink = "stderr"
	}
	level := eff.Config.Logging.Level
	if o.getenv("CHATSYNC_LOG_LEVEL") == "" {
		level = "warn"
	}
	logger.InitWithSink(level, sink)

	a, err := app.New(eff, Version, Commit, BuildDate)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, a, eff)
	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
