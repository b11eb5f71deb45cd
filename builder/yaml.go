package builder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sicko7947/agentflow"
	"gopkg.in/yaml.v3"
)

// Definition is the document form of a workflow, as written in YAML files
type Definition struct {
	ID          string           `yaml:"id" validate:"required"`
	Name        string           `yaml:"name" validate:"required"`
	Description string           `yaml:"description,omitempty"`
	Nodes       []agentflow.Node `yaml:"nodes" validate:"required,min=1,dive"`
	Edges       []agentflow.Edge `yaml:"edges" validate:"dive"`
}

// DefinitionOf converts a workflow graph to its document form
func DefinitionOf(wf *agentflow.WorkflowGraph) *Definition {
	return &Definition{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       wf.Nodes,
		Edges:       wf.Edges,
	}
}

// Workflow converts the document into a workflow graph without validating it
func (d *Definition) Workflow() *agentflow.WorkflowGraph {
	wf := agentflow.NewWorkflowGraph(d.ID, d.Name)
	wf.Description = d.Description
	wf.Nodes = append(wf.Nodes, d.Nodes...)
	wf.Edges = append(wf.Edges, d.Edges...)
	return wf
}

// ParseYAML decodes and validates a workflow definition. Unknown keys are rejected.
func ParseYAML(data []byte) (*agentflow.WorkflowGraph, error) {
	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse workflow definition: empty document")
		}
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}

	wf := def.Workflow()
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// LoadYAML reads a workflow definition from a file
func LoadYAML(path string) (*agentflow.WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	return ParseYAML(data)
}

// MarshalYAML renders a workflow graph as a definition document
func MarshalYAML(wf *agentflow.WorkflowGraph) ([]byte, error) {
	data, err := yaml.Marshal(DefinitionOf(wf))
	if err != nil {
		return nil, fmt.Errorf("marshal workflow definition: %w", err)
	}
	return data, nil
}
