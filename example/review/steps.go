package review

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/invoker"
)

// desk stands in for real skills and agents. Lint scores every draft 5 and
// each rewrite adds a point. Runs on one desk must not overlap.
type desk struct {
	mu       sync.Mutex
	score    int
	rewrites int
	logger   zerolog.Logger
}

func (d *desk) invoker() invoker.Funcs {
	return invoker.Funcs{
		Skill: d.skill,
		Agent: d.agent,
		Team:  d.team,
	}
}

func (d *desk) skill(ctx context.Context, name, args string) (*agentflow.InvocationResult, error) {
	switch name {
	case "markdown-lint":
		d.mu.Lock()
		d.score = 5
		d.rewrites = 0
		d.mu.Unlock()
		d.logger.Info().Str("args", args).Int("score", 5).Msg("Linting draft")
		return &agentflow.InvocationResult{Success: true, Output: "2 warnings", Variables: map[string]any{"score": 5}}, nil
	case "publish":
		return &agentflow.InvocationResult{Success: true, Output: "published"}, nil
	}
	return nil, fmt.Errorf("unknown skill %s", name)
}

func (d *desk) agent(ctx context.Context, name, prompt string) (*agentflow.InvocationResult, error) {
	if prompt != "Improve the draft" {
		return &agentflow.InvocationResult{Success: true, Output: "first draft"}, nil
	}

	d.mu.Lock()
	d.score++
	d.rewrites++
	score := d.score
	d.mu.Unlock()

	d.logger.Info().Int("score", score).Msg("Rewriting draft")
	return &agentflow.InvocationResult{
		Success:   true,
		Output:    fmt.Sprintf("draft v%d", score),
		Variables: map[string]any{"score": score},
	}, nil
}

func (d *desk) team(ctx context.Context, name, prompt string) (*agentflow.InvocationResult, error) {
	return &agentflow.InvocationResult{Success: true, Output: "looks reasonable"}, nil
}

func (d *desk) rewriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rewrites
}
