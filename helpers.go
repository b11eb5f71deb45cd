package agentflow

// ToPtr returns a pointer to the given value.
// This is useful for creating pointers to literals or converting values to pointers.
func ToPtr[T any](v T) *T {
	return &v
}

// appendUnique appends ids not already present in dst, keeping order
func appendUnique(dst []string, ids ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}

// Dedup returns ids with duplicates removed, first occurrence wins
func Dedup(ids []string) []string {
	return appendUnique(make([]string, 0, len(ids)), ids...)
}

// TaskInputs returns the run context seed for a task
func TaskInputs(task *Task, executionID string) map[string]any {
	vars := make(map[string]any, len(task.Inputs)+3)
	for k, v := range task.Inputs {
		vars[k] = v
	}
	vars[KeyTaskID] = task.ID
	vars[KeyExecutionID] = executionID
	vars[KeyWorkflowID] = task.WorkflowID
	return vars
}
