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

// Package commands implements orchestratorctl's per-verb cobra subcommands,
// each a thin wrapper over an HTTP call to orchestratord's jobs API.
package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/nguyenthutra3004/job-orchestrator/pkg/httpclient"
)

// serverURL resolves the orchestratord base URL: --server flag, then
// ORCHESTRATOR_SERVER_URL, then the local default.
func serverURL(cmd *cobra.Command) string {
	if flag, _ := cmd.Flags().GetString("server"); flag != "" {
		return flag
	}
	if env := os.Getenv("ORCHESTRATOR_SERVER_URL"); env != "" {
		return env
	}
	return "http://localhost:8080"
}

// buildURL joins base+path and attaches query params.
func buildURL(base, path string, params map[string]string) (string, error) {
	u, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			if v != "" {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// apiCall performs an HTTP request against orchestratord and returns the
// raw response body. Non-2xx responses are surfaced as an error carrying
// the server's JSON {"error": ...} message when present.
func apiCall(method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "orchestratorctl/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return respBody, resp.StatusCode, fmt.Errorf("orchestratord returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return respBody, resp.StatusCode, fmt.Errorf("orchestratord returned %d", resp.StatusCode)
	}

	return respBody, resp.StatusCode, nil
}

// printResponse pretty-prints body as indented JSON unless --json was
// passed, in which case it is printed verbatim.
func printResponse(cmd *cobra.Command, body []byte) error {
	raw, _ := cmd.Flags().GetBool("json")
	if raw {
		fmt.Println(string(body))
		return nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
