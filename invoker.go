package agentflow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HandlerType selects which collaborator method serves a task node
type HandlerType string

const (
	HandlerSkill HandlerType = "skill"
	HandlerAgent HandlerType = "agent"
	HandlerTeam  HandlerType = "team"
)

// String returns the string representation
func (h HandlerType) String() string {
	return string(h)
}

// ParseHandlerType converts the stored node_type into a HandlerType
func ParseHandlerType(s string) (HandlerType, error) {
	switch HandlerType(strings.ToLower(strings.TrimSpace(s))) {
	case HandlerSkill:
		return HandlerSkill, nil
	case HandlerAgent:
		return HandlerAgent, nil
	case HandlerTeam:
		return HandlerTeam, nil
	}
	return "", fmt.Errorf("unknown node_type %q (want skill, agent or team)", s)
}

// InvocationResult is what a work unit reports back
type InvocationResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`

	// Variables are merged into the run context after a successful dispatch
	Variables map[string]any `json:"variables,omitempty"`
}

// Invoker runs skills, agents and agent teams. Implementations block until
// the work unit finishes or the timeout passes; a timeout is reported as
// Success false rather than an error.
type Invoker interface {
	ExecuteSkill(ctx context.Context, name, args string, timeout time.Duration) (*InvocationResult, error)
	ExecuteWithAgent(ctx context.Context, name, prompt string, timeout time.Duration) (*InvocationResult, error)
	ExecuteWithTeam(ctx context.Context, name, prompt string, timeout time.Duration) (*InvocationResult, error)
}
