package cli

import (
	"context"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/juniormsyoka/med-assistant-front-sub000/internal/app"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/shutdown"
)

const shutdownTimeout = 20 * time.Second

func newRunCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync service and the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eff, err := o.effective(cmd)
			if err != nil {
				shutdown.Abort("invalid configuration", err, o.db)
				return err
			}
			logger.InitWithLevel(eff.Config.Logging.Level)
			logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath, "env", eff.EnvUsed)
			logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

			a, err := app.New(eff, Version, Commit, BuildDate)
			if err != nil {
				shutdown.Abort("failed to initialize app", err, eff.DBPath)
				return err
			}

			ctx, cancel := shutdown.SetupSignalHandler(context.Background())
			defer cancel()
			runErr := a.Run(ctx)
			if runErr != nil {
				logger.Error("app_run_failed", "error", runErr)
			}

			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := a.Shutdown(sctx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}
