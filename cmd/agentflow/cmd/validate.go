package cmd

import (
	"errors"
	"fmt"

	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/builder"
	"github.com/spf13/cobra"
)

var (
	validateWorkflowID string
	validateSave       bool
)

var validateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Validate a workflow definition file or a stored workflow",
	Long: `Validate a workflow and print its report (topological order, isolated nodes).

With FILE, the YAML definition is checked field by field and as a graph.
With --save it is then written to the configured store.
With --workflow ID, the stored workflow is loaded and checked instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateWorkflowID, "workflow", "w", "", "validate a stored workflow by id")
	validateCmd.Flags().BoolVar(&validateSave, "save", false, "save the validated definition to the store")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	switch {
	case len(args) == 1 && validateWorkflowID != "":
		return errors.New("pass either a definition file or --workflow, not both")
	case len(args) == 0 && validateWorkflowID == "":
		return errors.New("a definition file or --workflow is required")
	}

	if validateWorkflowID != "" {
		rt, err := newRuntime(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		report, err := rt.engine.ValidateWorkflow(ctx, validateWorkflowID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	}

	wf, err := builder.LoadYAML(args[0])
	if err != nil {
		return err
	}
	graph, err := wf.Validate()
	if err != nil {
		return agentflow.NewWorkflowValidationError(wf.ID, "", err)
	}

	if validateSave {
		rt, err := newRuntime(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		if err := rt.store.SaveWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
		}
	}

	return printJSON(cmd.OutOrStdout(), &agentflow.ValidationReport{
		WorkflowID:       wf.ID,
		Valid:            graph.Valid,
		NodeCount:        len(wf.Nodes),
		EdgeCount:        len(wf.Edges),
		TopologicalOrder: graph.TopologicalOrder,
		IsolatedNodes:    graph.IsolatedNodes,
	})
}
