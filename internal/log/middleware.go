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

package log

import (
	"log/slog"
	"net/http"
	"time"
)

// HTTPRequest captures the fields of an inbound HTTP request worth logging.
type HTTPRequest struct {
	// Method is the HTTP method (GET, POST, ...).
	Method string

	// Path is the request URL path.
	Path string

	// CorrelationID is the correlation ID for tracing the request.
	CorrelationID string

	// RemoteAddr is the remote address of the client.
	RemoteAddr string
}

// HTTPResponse captures the fields of an HTTP response worth logging.
type HTTPResponse struct {
	// StatusCode is the HTTP status code written.
	StatusCode int

	// DurationMs is the duration of the request in milliseconds.
	DurationMs int64
}

// LogHTTPRequest logs an incoming HTTP request at debug level.
func LogHTTPRequest(logger *slog.Logger, req *HTTPRequest) {
	attrs := []any{
		EventKey, "http_request",
		"method", req.Method,
		"path", req.Path,
		"remote", req.RemoteAddr,
	}

	if req.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", req.CorrelationID)
	}

	logger.Debug("http request received", attrs...)
}

// LogHTTPResponse logs a completed HTTP response. 5xx responses are logged
// at warn level, everything else at info.
func LogHTTPResponse(logger *slog.Logger, req *HTTPRequest, resp *HTTPResponse) {
	attrs := []any{
		EventKey, "http_response",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		DurationKey, resp.DurationMs,
		"remote", req.RemoteAddr,
	}

	if req.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", req.CorrelationID)
	}

	level := slog.LevelInfo
	if resp.StatusCode >= 500 {
		level = slog.LevelWarn
	}

	logger.Log(nil, level, "http request completed", attrs...)
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLoggingMiddleware returns middleware that logs every request and
// its response using logger, keying the correlation ID off the
// X-Correlation-ID header when present.
func RequestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			req := &HTTPRequest{
				Method:        r.Method,
				Path:          r.URL.Path,
				CorrelationID: r.Header.Get("X-Correlation-ID"),
				RemoteAddr:    r.RemoteAddr,
			}
			LogHTTPRequest(logger, req)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			LogHTTPResponse(logger, req, &HTTPResponse{
				StatusCode: rec.status,
				DurationMs: time.Since(start).Milliseconds(),
			})
		})
	}
}
