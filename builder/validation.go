package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sicko7947/agentflow"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateNode, agentflow.Node{})
	v.RegisterStructValidation(validateEdge, agentflow.Edge{})
	return v
}

// validateNode checks the fields each node kind depends on
func validateNode(sl validator.StructLevel) {
	node := sl.Current().Interface().(agentflow.Node)

	if node.ID == "" {
		sl.ReportError(node.ID, "ID", "id", "required", "")
	}
	if !node.Kind.IsValid() {
		sl.ReportError(node.Kind, "Kind", "kind", "node_kind", string(node.Kind))
		return
	}

	switch node.EffectiveKind() {
	case agentflow.NodeKindTask:
		if _, err := agentflow.ParseHandlerType(node.Config.NodeType); err != nil {
			sl.ReportError(node.Config.NodeType, "NodeType", "node_type", "oneof", "skill agent team")
		}
		if node.Config.Name == "" {
			sl.ReportError(node.Config.Name, "Name", "name", "required", "")
		}
		if node.Config.TimeoutSeconds < 0 {
			sl.ReportError(node.Config.TimeoutSeconds, "TimeoutSeconds", "timeout_seconds", "gte", "0")
		}
	case agentflow.NodeKindDecision:
		if strings.TrimSpace(node.ConditionExpr) == "" {
			sl.ReportError(node.ConditionExpr, "ConditionExpr", "condition", "required", "")
		}
	case agentflow.NodeKindLoopStart:
		if node.MaxIterations != nil && *node.MaxIterations < 0 {
			sl.ReportError(*node.MaxIterations, "MaxIterations", "max_iterations", "gte", "0")
		}
	}
}

func validateEdge(sl validator.StructLevel) {
	edge := sl.Current().Interface().(agentflow.Edge)
	if edge.FromNodeID == "" {
		sl.ReportError(edge.FromNodeID, "FromNodeID", "from", "required", "")
	}
	if edge.ToNodeID == "" {
		sl.ReportError(edge.ToNodeID, "ToNodeID", "to", "required", "")
	}
}

// ValidateDefinition checks the fields of a definition without looking at the graph shape
func ValidateDefinition(def *Definition) error {
	if err := validate.Struct(def); err != nil {
		return agentflow.NewWorkflowValidationError(def.ID, describe(err), nil)
	}
	return nil
}

// ValidateWorkflow performs comprehensive validation on a workflow:
// node and edge fields, graph structure, then decision fan-out
func ValidateWorkflow(wf *agentflow.WorkflowGraph) error {
	if err := ValidateDefinition(DefinitionOf(wf)); err != nil {
		return err
	}

	if _, err := wf.Validate(); err != nil {
		return agentflow.NewWorkflowValidationError(wf.ID, "", err)
	}

	return ValidateDecisions(wf)
}

// ValidateDecisions rejects decision nodes whose extra successors could never be taken
func ValidateDecisions(wf *agentflow.WorkflowGraph) error {
	out := make(map[string][]agentflow.Edge)
	for _, e := range wf.Edges {
		out[e.FromNodeID] = append(out[e.FromNodeID], e)
	}

	for _, node := range wf.Nodes {
		if node.EffectiveKind() != agentflow.NodeKindDecision {
			continue
		}

		labelled, unlabelled := 0, 0
		for _, e := range out[node.ID] {
			switch strings.ToLower(strings.TrimSpace(e.Condition)) {
			case "true", "false":
				labelled++
			default:
				unlabelled++
			}
		}

		switch {
		case labelled > 0 && unlabelled > 0:
			return agentflow.NewWorkflowValidationError(wf.ID,
				fmt.Sprintf("decision %s mixes labelled and unlabelled edges", node.ID), nil)
		case unlabelled > 2:
			return agentflow.NewWorkflowValidationError(wf.ID,
				fmt.Sprintf("decision %s has %d successors, only the first two are reachable", node.ID, unlabelled), nil)
		}
	}
	return nil
}

// describe flattens validator errors into one line
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
