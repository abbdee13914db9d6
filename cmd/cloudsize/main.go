// Command cloudsize mirrors the file listings of completed cloud jobs into a
// local database and reports the on-disk size of the stub files they left behind.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rossigee/cloudsize/internal/api"
	"github.com/rossigee/cloudsize/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	cfg := config.Load()
	api.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(cfg).ExecuteContext(ctx)
	stop()

	if err != nil {
		logrus.WithError(err).Error("cloudsize failed")
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		search string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "cloudsize",
		Short: "Mirror cloud job file listings and report stub file sizes",
		Long: `Without flags cloudsize runs an update: it discovers completed cloud jobs,
fetches the file listing of every job not yet mirrored and records the local
size of each file. With --search it prints the total recorded size of the
files whose path contains the given text. The match is case-sensitive:
"Foo" does not match "/ifs/foo".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(cfg.LogLevel, debug)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("search") {
				return runSearch(cmd.Context(), cmd.OutOrStdout(), cfg, search)
			}
			return runUpdate(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfg.DBPath, "database", "d", cfg.DBPath, "database path")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVarP(&search, "search", "s", "", "print the size of files whose path contains this text (case-sensitive)")

	cmd.AddCommand(newServeCmd(cfg))

	return cmd
}

func setupLogging(level logrus.Level, debug bool) {
	if debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}
