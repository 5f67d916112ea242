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
	"fmt"

	"github.com/spf13/cobra"
)

// NewCancelCommand builds `orchestratorctl cancel <job-id>`.
func NewCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Long:  "Cancel removes a queued job from the admission queue. A job that is already running cannot be cancelled.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := buildURL(serverURL(cmd), "/jobs/"+args[0], nil)
			if err != nil {
				return err
			}
			body, _, err := apiCall("DELETE", url, nil)
			if err != nil {
				return fmt.Errorf("cancel job %s: %w", args[0], err)
			}
			return printResponse(cmd, body)
		},
	}
}
