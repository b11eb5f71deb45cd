package review

import (
	"fmt"

	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/builder"
)

// NewReviewWorkflow drafts a document, lints and peer reviews it in parallel,
// then either publishes it straight away or polishes it until the lint score
// reaches 8.
func NewReviewWorkflow() (*agentflow.WorkflowGraph, error) {
	publish := builder.Skill("publish", "publish", "")

	wf, err := builder.NewWorkflow("review", "Draft and review").
		WithDescription("Draft, review in parallel, polish until the score is good enough").
		Then(builder.Agent("draft", "writer", "Draft a design note", builder.WithTimeout(600))).
		Parallel("fanout", "joined",
			builder.Skill("lint", "markdown-lint", "--strict"),
			builder.Team("peer_review", "reviewers", "Review the draft"),
		).
		Decide("fast_tracked", "fast_track", publish, nil).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build review workflow: %w", err)
	}

	// the slow path hangs off the decision's false branch and rejoins at publish
	polish := agentflow.Node{
		ID:            "polish",
		Kind:          agentflow.NodeKindLoopStart,
		LoopCondition: "score < 8",
		MaxIterations: agentflow.ToPtr(5),
	}
	steps := []agentflow.Node{
		polish,
		builder.Agent("rewrite", "writer", "Improve the draft"),
		{ID: "polish_end", Kind: agentflow.NodeKindLoopEnd},
	}
	for _, n := range steps {
		if err := wf.AddNode(n); err != nil {
			return nil, fmt.Errorf("failed to build review workflow: %w", err)
		}
	}
	edges := [][3]string{
		{"fast_tracked", "polish", "false"},
		{"polish", "rewrite", ""},
		{"polish", "polish_end", ""},
		{"polish_end", "publish", ""},
	}
	for _, e := range edges {
		if err := wf.AddEdge(e[0], e[1], e[2]); err != nil {
			return nil, fmt.Errorf("failed to build review workflow: %w", err)
		}
	}

	if err := builder.ValidateWorkflow(wf); err != nil {
		return nil, fmt.Errorf("failed to build review workflow: %w", err)
	}
	return wf, nil
}
