package review

import "github.com/sicko7947/agentflow"

// ReviewInput is the task input of a review run
type ReviewInput struct {
	Topic     string `json:"topic"`
	FastTrack bool   `json:"fast_track"`
}

func (in ReviewInput) vars() map[string]any {
	return map[string]any{
		"topic":      in.Topic,
		"fast_track": in.FastTrack,
	}
}

// ReviewStatus represents the current status of a review execution
type ReviewStatus struct {
	*agentflow.Execution
	NodeExecutions []*agentflow.NodeExecution `json:"nodeExecutions,omitempty"`
	Rewrites       int                        `json:"rewrites"`
}
