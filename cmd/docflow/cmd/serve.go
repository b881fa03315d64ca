package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/MeKo-Tech/docflow/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket host for interactive pipelines",
	Long: `Start an HTTP server that exposes the pipeline, the OCR batch
coordinator and the file libraries.

The server provides the following endpoints:
  GET  /pipeline                  - Current pipeline snapshot
  POST /pipeline/stages           - Add a stage
  POST /pipeline/source           - Select library files
  POST /pipeline/run              - Run the current stage (?all=true for all)
  POST /ocr/process               - Recognize uploads or library files
  GET  /ocr/jobs                  - Job table
  GET  /ocr/export                - Export results (json, text, csv)
  GET  /explorer/libraries        - List libraries
  GET  /ws                        - Live snapshots, jobs and progress
  GET  /health                    - Health check endpoint
  GET  /metrics                   - Prometheus metrics

Examples:
  docflow serve
  docflow serve --port 8080 --root /srv/docs
  docflow serve --host 0.0.0.0 --requests-per-minute 30`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("requests-per-minute", 0, "work-starting requests per minute per client (0 = unlimited)")
	serveCmd.Flags().String("preset", "", "pipeline preset file to start with (YAML)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := slog.Default()

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	corsOrigin := cfg.Server.CORSOrigin
	if cmd.Flags().Changed("cors-origin") {
		corsOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	maxUploadSize := cfg.Server.MaxUploadMB
	if cmd.Flags().Changed("max-upload-size") {
		maxUploadSize, _ = cmd.Flags().GetInt("max-upload-size")
	}
	timeout := cfg.Server.TimeoutSec
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetInt("timeout")
	}
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}
	requestsPerMinute := cfg.Server.RequestsPerMinute
	if cmd.Flags().Changed("requests-per-minute") {
		requestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
	}
	presetFile, _ := cmd.Flags().GetString("preset")

	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub(logger)
	progress := pipeline.NewMultiProgressCallback(
		pipeline.NewLogProgressCallback(logger, slog.LevelDebug, "stage"),
		hub.Progress(),
	)
	eng, err := newEngine(cfg, progress, logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	preset, err := loadPreset(cfg, presetFile)
	if err != nil {
		return fmt.Errorf("load preset: %w", err)
	}
	if err := eng.state.ApplyPreset(preset); err != nil {
		return fmt.Errorf("apply preset: %w", err)
	}

	docServer, err := server.NewServer(server.Config{
		Host:              host,
		Port:              port,
		CORSOrigin:        corsOrigin,
		MaxUploadMB:       int64(maxUploadSize),
		TimeoutSec:        timeout,
		RequestsPerMinute: requestsPerMinute,
	}, server.Deps{
		State:       eng.state,
		Runner:      eng.runner,
		Coordinator: eng.coord,
		Session:     eng.session,
		Explorer:    eng.explorer,
		Hub:         hub,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	// The engine loads in the background; /health reports its state.
	go func() {
		if err := eng.session.Initialize(ctx); err != nil {
			logger.Error("OCR engine initialization failed", "error", err)
		}
	}()

	mux := http.NewServeMux()
	docServer.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(timeout) * time.Second,
		WriteTimeout:      time.Duration(timeout) * time.Second,
	}

	go func() {
		logger.Info("Starting docflow server", "host", host, "port", port, "root", cfg.Explorer.Root)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}

	logger.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	} else {
		logger.Info("HTTP server shutdown completed")
	}

	// Cancels running tasks and disconnects websocket clients.
	if err := docServer.Close(); err != nil {
		logger.Error("Server cleanup error", "error", err)
	}

	logger.Info("Graceful shutdown completed")
	return nil
}
