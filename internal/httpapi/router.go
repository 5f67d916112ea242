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

// Package httpapi is the Job Orchestration Core's HTTP Surface (C8): job
// submission, status, listing, queue introspection, and cancellation,
// wrapped in a middleware chain that rate-limits ingress and tags every
// request with a correlation ID and a structured access log line. The
// chain opens no tracing span for a request.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/nguyenthutra3004/job-orchestrator/internal/log"
	"github.com/nguyenthutra3004/job-orchestrator/internal/obstrace"
)

// RouterConfig holds build-time information surfaced by the root endpoint.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string
}

// MetricsHandler serves a Prometheus-format metrics page.
type MetricsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Router wraps an http.ServeMux with the correlation/logging middleware
// chain described in SPEC_FULL.md's ambient-stack section.
type Router struct {
	mux            *http.ServeMux
	config         RouterConfig
	metricsHandler MetricsHandler
	logger         *slog.Logger
	rateLimiter    *RateLimiter
}

// NewRouter constructs a Router with the root/version endpoints registered.
// Callers attach the jobs API with JobsHandler.RegisterRoutes before serving.
// Ingress is guarded by a 20 req/s (burst 40) token-bucket limiter per §11.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		config:      cfg,
		logger:      logger,
		rateLimiter: NewRateLimiter(20, 40),
	}

	r.mux.HandleFunc("GET /v1/version", r.handleVersion)
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// SetMetricsHandler registers a Prometheus metrics endpoint at GET /metrics.
func (r *Router) SetMetricsHandler(handler MetricsHandler) {
	r.metricsHandler = handler
	if handler != nil {
		r.mux.HandleFunc("GET /metrics", handler.ServeHTTP)
	}
}

// Mux returns the underlying ServeMux so other handlers can register
// additional routes directly.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler. The chain runs, from outermost to
// innermost: request logging, correlation ID propagation, rate limiting,
// then the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux
	handler = r.rateLimiter.Middleware(handler)
	handler = obstrace.CorrelationMiddleware(handler)
	handler = log.RequestLoggingMiddleware(r.logger)(handler)
	handler.ServeHTTP(w, req)
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "orchestratord",
		"version": r.config.Version,
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    r.config.Version,
		"commit":     r.config.Commit,
		"build_date": r.config.BuildDate,
	})
}
