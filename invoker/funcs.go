package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sicko7947/agentflow"
)

// Func runs one work unit. input is the skill args or the agent/team prompt.
type Func func(ctx context.Context, name, input string) (*agentflow.InvocationResult, error)

// Funcs is an in-process invoker backed by plain functions
type Funcs struct {
	Skill Func
	Agent Func
	Team  Func
}

// ExecuteSkill implements agentflow.Invoker
func (f Funcs) ExecuteSkill(ctx context.Context, name, args string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return call(ctx, agentflow.HandlerSkill, f.Skill, name, args, timeout)
}

// ExecuteWithAgent implements agentflow.Invoker
func (f Funcs) ExecuteWithAgent(ctx context.Context, name, prompt string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return call(ctx, agentflow.HandlerAgent, f.Agent, name, prompt, timeout)
}

// ExecuteWithTeam implements agentflow.Invoker
func (f Funcs) ExecuteWithTeam(ctx context.Context, name, prompt string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return call(ctx, agentflow.HandlerTeam, f.Team, name, prompt, timeout)
}

func call(ctx context.Context, handler agentflow.HandlerType, fn Func, name, input string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("no %s function registered", handler)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := fn(runCtx, name, input)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return timedOut(timeout), nil
	}
	if err == nil && result == nil {
		return nil, fmt.Errorf("%s function %s returned no result", handler, name)
	}
	return result, err
}
