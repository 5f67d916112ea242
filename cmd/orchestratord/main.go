// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command orchestratord runs the Job Orchestration Core's HTTP daemon: it
// loads configuration, wires the job runner and its dependent components,
// and serves the HTTP Surface (C8) until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nguyenthutra3004/job-orchestrator/internal/config"
	"github.com/nguyenthutra3004/job-orchestrator/internal/httpapi"
	"github.com/nguyenthutra3004/job-orchestrator/internal/jobrunner"
	"github.com/nguyenthutra3004/job-orchestrator/internal/log"
	"github.com/nguyenthutra3004/job-orchestrator/internal/obstrace"
	"github.com/nguyenthutra3004/job-orchestrator/pkg/httpclient"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "path to a YAML config file")
		listenAddr      = flag.String("listen-addr", "", "HTTP listen address (overrides config/env)")
		dataDir         = flag.String("data-dir", "", "root directory for job output (overrides config/env)")
		trackingBackend = flag.String("tracking-backend", "", "default tracking backend: wandb or mlflow (overrides config/env)")
		showVersion     = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestratord %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", log.Error(err))
		os.Exit(1)
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *trackingBackend != "" {
		cfg.TrackingBackend = config.TrackingBackend(*trackingBackend)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProvider, err := obstrace.NewProvider(ctx, "orchestratord", version, obstrace.ExporterKindFromEnv())
	if err != nil {
		logger.Error("failed to initialize telemetry provider", log.Error(err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry provider shutdown error", log.Error(err))
		}
	}()

	httpClientCfg := httpclient.DefaultConfig()
	httpClientCfg.UserAgent = fmt.Sprintf("orchestratord/%s", version)
	client, err := httpclient.New(httpClientCfg)
	if err != nil {
		logger.Error("failed to build outbound HTTP client", log.Error(err))
		os.Exit(1)
	}

	runner := jobrunner.New(cfg, client, logger,
		jobrunner.WithMetrics(obstrace.NewJobMetrics()),
		jobrunner.WithTracer(otelProvider.Tracer("jobrunner")),
	)

	router := httpapi.NewRouter(httpapi.RouterConfig{Version: version, Commit: commit, BuildDate: buildDate}, logger)
	router.SetMetricsHandler(otelProvider.MetricsHandler())
	httpapi.NewJobsHandler(runner).RegisterRoutes(router.Mux())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("orchestratord listening", slog.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server error", log.Error(err))
			os.Exit(1)
		}
		return
	}

	runner.StartDraining()
	server.SetKeepAlivesEnabled(false)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.MaxWait)
	defer cancel()
	if err := runner.WaitForDrain(drainCtx, cfg.MaxWait); err != nil {
		logger.Warn("drain timed out with a job still running", log.Error(err))
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", log.Error(err))
	}
}
