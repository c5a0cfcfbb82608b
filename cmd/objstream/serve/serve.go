// Package servecmder provides the serve command for running the HTTP server.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/config"
	"github.com/objstreamhq/objstream/pkg/logger"
	"github.com/objstreamhq/objstream/pkg/record"
	"github.com/objstreamhq/objstream/pkg/telemetry"
	"github.com/objstreamhq/objstream/server"
)

type ServeCommander struct {
	listen        string
	provider      string
	upstream      string
	apiKey        string
	model         string
	sqlitePath    string
	telemetryOn   bool
	recordInputs  bool
	recordOutputs bool
	workers       uint
	queueSize     uint

	cfg    *config.Config
	logger *zap.Logger
}

const serveLongDesc string = `Run the objstream HTTP server.

The server exposes:
  POST /v1/object          Generate one object and return it when complete
  POST /v1/object/stream   Generate one object, relaying deltas and partials as SSE
  GET  /v1/generations     List stored generation records
  GET  /healthz            Health check`

const serveShortDesc string = "Run the objstream HTTP server"

// serveFlags are the registry keys bound on this command.
var serveFlags = []string{
	config.FlagListen,
	config.FlagProvider,
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagModel,
	config.FlagSQLite,
	config.FlagTelemetry,
	config.FlagRecordInputs,
	config.FlagRecordOutputs,
	config.FlagWorkers,
	config.FlagWorkerQueueSize,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %w", err)
			}

			v, err := config.InitViper(configFile)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

			cmder.cfg, err = config.FromViper(v)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(debug)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, config.Flags, config.FlagModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddBoolFlag(cmd, config.Flags, config.FlagTelemetry, &cmder.telemetryOn)
	config.AddBoolFlag(cmd, config.Flags, config.FlagRecordInputs, &cmder.recordInputs)
	config.AddBoolFlag(cmd, config.Flags, config.FlagRecordOutputs, &cmder.recordOutputs)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkerQueueSize, &cmder.queueSize)

	return cmd
}

func (c *ServeCommander) run(debug bool) error {
	c.logger = logger.NewZap(debug || c.cfg.Log.Debug)
	defer c.logger.Sync()

	store, err := record.NewSQLiteStore(c.cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("creating record store: %w", err)
	}
	defer store.Close()

	c.logger.Info("using SQLite storage", zap.String("path", c.cfg.Storage.SQLitePath))

	// Spans go to whatever tracer provider the deployment has installed
	// globally; without one they are no-ops.
	recorder := telemetry.NewRecorder(telemetry.Settings{
		Enabled:        c.cfg.Telemetry.Enabled,
		RecordInputs:   c.cfg.Telemetry.RecordInputs,
		RecordOutputs:  c.cfg.Telemetry.RecordOutputs,
		TracerProvider: otel.GetTracerProvider(),
	})

	srv, err := server.New(server.Config{
		ListenAddr:   c.cfg.Server.Listen,
		Provider:     c.cfg.Provider.Name,
		Upstream:     c.cfg.Provider.Upstream,
		APIKey:       c.cfg.Provider.APIKey,
		DefaultModel: c.cfg.Model.Name,
		NumWorkers:   c.cfg.Worker.NumWorkers,
		QueueSize:    c.cfg.Worker.QueueSize,
	}, store, recorder, c.logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	// Channel to capture errors from the server goroutine
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Run(); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}
