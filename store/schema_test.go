package store

import (
	"sort"
	"strings"
	"testing"
)

func TestEntityPKs(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "workflow", got: workflowPK("wf-1"), want: "WORKFLOW#wf-1"},
		{name: "task", got: taskPK("task-1"), want: "TASK#task-1"},
		{name: "execution", got: executionPK("550e8400-e29b-41d4-a716-446655440000"), want: "EXEC#550e8400-e29b-41d4-a716-446655440000"},
		{name: "node execution shares execution partition", got: nodeExecutionPK("exec-1"), want: "EXEC#exec-1"},
		{name: "executions by task", got: executionGSI1PK("task-1"), want: "TASK#task-1"},
		{name: "executions by workflow", got: executionGSI2PK("wf-1"), want: "WF#wf-1"},
		{name: "empty id", got: executionPK(""), want: "EXEC#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestMetaSK(t *testing.T) {
	if got := metaSK(); got != "META" {
		t.Errorf("metaSK() = %s, want META", got)
	}
}

func TestNodeExecutionSK(t *testing.T) {
	tests := []struct {
		sequence int
		nodeID   string
		want     string
	}{
		{sequence: 1, nodeID: "draft", want: "NODE#000001#draft"},
		{sequence: 42, nodeID: "review", want: "NODE#000042#review"},
		{sequence: 123456, nodeID: "x", want: "NODE#123456#x"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := nodeExecutionSK(tt.sequence, tt.nodeID)
			if got != tt.want {
				t.Errorf("nodeExecutionSK(%d, %s) = %s, want %s", tt.sequence, tt.nodeID, got, tt.want)
			}
			if !strings.HasPrefix(got, nodePrefix()) {
				t.Errorf("%s does not start with %s", got, nodePrefix())
			}
		})
	}
}

func TestNodeExecutionSK_SortsByDispatchOrder(t *testing.T) {
	// a node repeated by a loop gets one key per dispatch
	keys := []string{
		nodeExecutionSK(10, "a"),
		nodeExecutionSK(2, "zeta"),
		nodeExecutionSK(9, "body"),
		nodeExecutionSK(3, "body"),
	}
	sort.Strings(keys)

	want := []string{"NODE#000002#zeta", "NODE#000003#body", "NODE#000009#body", "NODE#000010#a"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("sorted keys = %v, want %v", keys, want)
		}
	}
}
