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

// Command orchestratorctl is a thin, non-interactive CLI wrapper over the
// Job Orchestration Core's HTTP Surface (C8): submit, inspect, list,
// cancel, and introspect the admission queue of a running orchestratord.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nguyenthutra3004/job-orchestrator/cmd/orchestratorctl/commands"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Control the job orchestration core's daemon over HTTP",
		Long: `orchestratorctl is a thin client over orchestratord's HTTP Surface.

Server URL Resolution Order:
  1. --server flag
  2. ORCHESTRATOR_SERVER_URL environment variable
  3. http://localhost:8080`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("server", "", "orchestratord base URL (env: ORCHESTRATOR_SERVER_URL)")
	root.PersistentFlags().Bool("json", false, "print raw JSON responses instead of formatted output")

	root.AddCommand(
		commands.NewSubmitCommand(),
		commands.NewGetCommand(),
		commands.NewListCommand(),
		commands.NewQueueCommand(),
		commands.NewCancelCommand(),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print orchestratorctl version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("orchestratorctl %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
