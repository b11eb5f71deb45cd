package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/builder"
	"github.com/spf13/cobra"
)

var (
	runFile   string
	runTitle  string
	runInputs map[string]string
)

var runCmd = &cobra.Command{
	Use:   "run [TASK_ID]",
	Short: "Run a task's workflow to completion",
	Long: `Run the workflow assigned to a stored task and print the execution record.

With --file, the definition is loaded from YAML, saved, and a new task is
created for it from --title and --input before running.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "workflow definition to run (YAML)")
	runCmd.Flags().StringVar(&runTitle, "title", "", "title of the task created for --file")
	runCmd.Flags().StringToStringVarP(&runInputs, "input", "i", nil, "task input as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

type runOutput struct {
	*agentflow.Execution
	NodeExecutions []*agentflow.NodeExecution `json:"nodeExecutions"`
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	switch {
	case len(args) == 1 && runFile != "":
		return errors.New("pass either a task id or --file, not both")
	case len(args) == 0 && runFile == "":
		return errors.New("a task id or --file is required")
	}

	rt, err := newRuntime(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	var taskID string
	if runFile != "" {
		wf, err := builder.LoadYAML(runFile)
		if err != nil {
			return err
		}
		if err := rt.store.SaveWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
		}

		inputs := make(map[string]any, len(runInputs))
		for k, v := range runInputs {
			inputs[k] = v
		}
		title := runTitle
		if title == "" {
			title = wf.Name
		}

		now := time.Now()
		task := &agentflow.Task{
			ID:         uuid.New().String(),
			Title:      title,
			WorkflowID: wf.ID,
			Status:     agentflow.TaskStatusPending,
			Inputs:     inputs,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := rt.store.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("failed to save task: %w", err)
		}
		taskID = task.ID
	} else {
		taskID = args[0]
	}

	exec, err := rt.engine.ExecuteTask(ctx, taskID)
	if err != nil {
		return err
	}

	nodeExecs, err := rt.engine.ListNodeExecutions(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("failed to list node executions: %w", err)
	}
	if err := printJSON(cmd.OutOrStdout(), runOutput{Execution: exec, NodeExecutions: nodeExecs}); err != nil {
		return err
	}

	if exec.Status == agentflow.ExecutionStatusFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.ErrorMessage)
	}
	return nil
}
