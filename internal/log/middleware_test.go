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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogHTTPRequest(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{Level: "debug", Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	req := &HTTPRequest{
		Method:        "POST",
		Path:          "/jobs",
		CorrelationID: "correlation-123",
		RemoteAddr:    "127.0.0.1:54321",
	}

	LogHTTPRequest(logger, req)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry[EventKey] != "http_request" {
		t.Errorf("expected event to be 'http_request', got: %v", logEntry[EventKey])
	}
	if logEntry["method"] != "POST" {
		t.Errorf("expected method to be 'POST', got: %v", logEntry["method"])
	}
	if logEntry["path"] != "/jobs" {
		t.Errorf("expected path to be '/jobs', got: %v", logEntry["path"])
	}
	if logEntry["correlation_id"] != "correlation-123" {
		t.Errorf("expected correlation_id to be 'correlation-123', got: %v", logEntry["correlation_id"])
	}
}

func TestLogHTTPRequest_MinimalFields(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{Level: "debug", Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	req := &HTTPRequest{Method: "GET", Path: "/jobs", RemoteAddr: "127.0.0.1:54321"}
	LogHTTPRequest(logger, req)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if _, ok := logEntry["correlation_id"]; ok {
		t.Errorf("expected no correlation_id field for minimal request")
	}
}

func TestLogHTTPResponse_Success(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{Level: "info", Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	req := &HTTPRequest{Method: "POST", Path: "/jobs", CorrelationID: "correlation-123"}
	resp := &HTTPResponse{StatusCode: 201, DurationMs: 15}

	LogHTTPResponse(logger, req, resp)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry[EventKey] != "http_response" {
		t.Errorf("expected event to be 'http_response', got: %v", logEntry[EventKey])
	}
	if logEntry["status"] != float64(201) {
		t.Errorf("expected status to be 201, got: %v", logEntry["status"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("expected level to be 'INFO' for a 2xx response, got: %v", logEntry["level"])
	}
	if logEntry[DurationKey] != float64(15) {
		t.Errorf("expected %s to be 15, got: %v", DurationKey, logEntry[DurationKey])
	}
}

func TestLogHTTPResponse_ServerError(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{Level: "info", Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	req := &HTTPRequest{Method: "POST", Path: "/jobs"}
	resp := &HTTPResponse{StatusCode: 500, DurationMs: 5}

	LogHTTPResponse(logger, req, resp)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}

	if logEntry["level"] != "WARN" {
		t.Errorf("expected level to be 'WARN' for a 5xx response, got: %v", logEntry["level"])
	}
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{Level: "debug", Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	mw := RequestLoggingMiddleware(logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.Header.Set("X-Correlation-ID", "correlation-abc")
	rr := httptest.NewRecorder()

	mw.ServeHTTP(rr, req)

	if !handlerCalled {
		t.Fatal("expected wrapped handler to be called")
	}
	if rr.Code != http.StatusCreated {
		t.Errorf("expected status 201 to be written through, got %d", rr.Code)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines (request + response), got %d: %s", len(lines), buf.String())
	}

	var requestLog, responseLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &requestLog); err != nil {
		t.Fatalf("expected valid JSON for request log: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &responseLog); err != nil {
		t.Fatalf("expected valid JSON for response log: %v", err)
	}

	if requestLog[EventKey] != "http_request" {
		t.Errorf("expected first log to be http_request, got: %v", requestLog[EventKey])
	}
	if responseLog[EventKey] != "http_response" {
		t.Errorf("expected second log to be http_response, got: %v", responseLog[EventKey])
	}
	if responseLog["status"] != float64(http.StatusCreated) {
		t.Errorf("expected status 201 in response log, got: %v", responseLog["status"])
	}
	if responseLog["correlation_id"] != "correlation-abc" {
		t.Errorf("expected correlation_id to propagate into response log, got: %v", responseLog["correlation_id"])
	}
}

func TestRequestLoggingMiddleware_DefaultStatusOK(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{Level: "debug", Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mw := RequestLoggingMiddleware(logger)(next)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var responseLog map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &responseLog); err != nil {
		t.Fatalf("expected valid JSON for response log: %v", err)
	}

	if responseLog["status"] != float64(http.StatusOK) {
		t.Errorf("expected default status 200 when WriteHeader is never called, got: %v", responseLog["status"])
	}
}
