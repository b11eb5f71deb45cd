package store

import "fmt"

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrEntityType = "entity_type"
	AttrStatus     = "status"
	AttrUpdatedAt  = "updated_at"

	// Entity types
	EntityTypeWorkflow      = "Workflow"
	EntityTypeTask          = "Task"
	EntityTypeExecution     = "Execution"
	EntityTypeNodeExecution = "NodeExecution"

	// Index names
	IndexTaskIndex     = "GSI1"
	IndexWorkflowIndex = "GSI2"
)

// Workflow keys: PK=WORKFLOW#{workflowID}, SK=META
func workflowPK(workflowID string) string {
	return fmt.Sprintf("WORKFLOW#%s", workflowID)
}

// Task keys: PK=TASK#{taskID}, SK=META
func taskPK(taskID string) string {
	return fmt.Sprintf("TASK#%s", taskID)
}

func metaSK() string {
	return "META"
}

// Execution keys: PK=EXEC#{executionID}, SK=META
func executionPK(executionID string) string {
	return fmt.Sprintf("EXEC#%s", executionID)
}

// Executions by task: GSI1PK=TASK#{taskID}, GSI1SK={createdAt}
func executionGSI1PK(taskID string) string {
	return fmt.Sprintf("TASK#%s", taskID)
}

// Executions by workflow: GSI2PK=WF#{workflowID}, GSI2SK={createdAt}
func executionGSI2PK(workflowID string) string {
	return fmt.Sprintf("WF#%s", workflowID)
}

// NodeExecution keys: PK=EXEC#{executionID}, SK=NODE#{sequence}#{nodeID}.
// The zero-padded sequence keeps a query in dispatch order, and a node
// repeated by a loop still gets a distinct key per iteration.
func nodeExecutionPK(executionID string) string {
	return executionPK(executionID)
}

func nodeExecutionSK(sequence int, nodeID string) string {
	return fmt.Sprintf("NODE#%06d#%s", sequence, nodeID)
}

// Prefix for range queries
func nodePrefix() string {
	return "NODE#"
}
