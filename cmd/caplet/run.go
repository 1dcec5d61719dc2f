package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caplet-dev/caplet/internal/values"
	"github.com/caplet-dev/caplet/internal/workflow"
)

var (
	runInput     string
	runManifests []string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow",
	Long: `Run loads the given plugin manifests, registers the workflow
definition, executes it, and prints the per-node results as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("cannot read workflow %s: %w", args[0], err)
		}
		w, err := workflow.ParseDefinition(data)
		if err != nil {
			return err
		}

		var input json.RawMessage
		if runInput != "" {
			if !json.Valid([]byte(runInput)) {
				return fmt.Errorf("--input is not valid JSON")
			}
			input = json.RawMessage(runInput)
		}

		k, err := newKernel(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = k.Stop(ctx) }()

		if len(runManifests) > 0 {
			if _, err := loadPlugins(ctx, k, runManifests); err != nil {
				return err
			}
		}

		workflowID, err := k.Workflows.Register(w)
		if err != nil {
			return err
		}
		execID, err := k.Workflows.NewExecution(workflowID, input)
		if err != nil {
			return err
		}
		if err := k.Workflows.Run(ctx, execID); err != nil {
			return err
		}

		exec, err := k.Workflows.Execution(execID)
		if err != nil {
			return err
		}

		out, _ := json.MarshalIndent(map[string]any{
			"execution": execID,
			"status":    exec.Status(),
			"results":   exec.Results(),
		}, "", "  ")
		fmt.Println(string(out))

		if exec.Status() != values.ExecutionCompleted {
			return fmt.Errorf("execution %s: %s", exec.Status(), exec.FailureReason())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "execution input as a JSON document")
	runCmd.Flags().StringSliceVar(&runManifests, "plugin", nil, "plugin manifest to load (repeatable)")
	rootCmd.AddCommand(runCmd)
}
