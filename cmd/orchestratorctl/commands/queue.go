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
	"github.com/spf13/cobra"
)

// NewQueueCommand builds `orchestratorctl queue`.
func NewQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show whether a job is running and what is queued behind it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := buildURL(serverURL(cmd), "/queue", nil)
			if err != nil {
				return err
			}
			body, _, err := apiCall("GET", url, nil)
			if err != nil {
				return err
			}
			return printResponse(cmd, body)
		},
	}
}
