package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/server"
)

const consoleSize = 50

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt := newRuntime()
		defer rt.close()

		// One console per session, shared by every component.
		console := events.NewConsole(consoleSize)
		defer console.Close()
		rt.sink = events.Multi(console, events.NewZapSink(rt.logger))

		opts := server.Options{
			Patcher:      rt.applier(true),
			Store:        rt.store(),
			Deployer:     rt.deployer(),
			Console:      console,
			Sink:         rt.sink,
			Logger:       rt.logger,
			Integrations: rt.integrations(),
		}

		if scorer, err := rt.scorer(ctx); err != nil {
			rt.logger.Warn("resume analysis disabled", zap.Error(err))
		} else {
			opts.Analyzer = scorer
		}

		console.Emit(events.ComponentSystem, events.LevelInfo, "Session started")
		rt.logger.Info("starting the livepatch server", zap.String("version", version), zap.String("workspace", rt.config.Workspace))

		if err := server.New(opts).ListenAndServe(ctx, rt.config.Addr); err != nil {
			rt.logger.Fatal("serving http", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :3000)")
	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
}
