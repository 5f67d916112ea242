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

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewSubmitCommand builds `orchestratorctl submit`.
func NewSubmitCommand() *cobra.Command {
	var (
		bodyFile    string
		modelName   string
		webhookURL  string
		strategy    string
		kind        string
		dataVersion string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a training or evaluation job",
		Long: `Submit posts a job request to POST /jobs.

Provide the full request body with --file, or the common fields directly
with --model-name/--data-version/--webhook-url for a quick training
submission.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("reading --file: %w", err)
				}
				body = data
			} else {
				if modelName == "" {
					return fmt.Errorf("--model-name is required when --file is not given")
				}
				req := map[string]any{"model_name": modelName}
				if dataVersion != "" {
					req["data_version"] = dataVersion
				}
				if webhookURL != "" {
					req["webhook_url"] = webhookURL
				}
				data, err := json.Marshal(req)
				if err != nil {
					return err
				}
				body = data
			}

			url, err := buildURL(serverURL(cmd), "/jobs", map[string]string{
				"strategy": strategy,
				"kind":     kind,
			})
			if err != nil {
				return err
			}

			respBody, _, err := apiCall("POST", url, body)
			if err != nil {
				return err
			}
			return printResponse(cmd, respBody)
		},
	}

	cmd.Flags().StringVar(&bodyFile, "file", "", "path to a JSON job request body (use '-' for stdin, not yet supported)")
	cmd.Flags().StringVar(&modelName, "model-name", "", "model_name for a quick training submission")
	cmd.Flags().StringVar(&dataVersion, "data-version", "", "data_version for a quick training submission")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "webhook_url for a quick training submission")
	cmd.Flags().StringVar(&strategy, "strategy", "queue", "admission strategy: reject or queue")
	cmd.Flags().StringVar(&kind, "kind", "training", "job kind: training or evaluation")

	return cmd
}
