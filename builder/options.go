package builder

import "github.com/sicko7947/agentflow"

// NodeOption is a functional option for configuring task nodes
type NodeOption func(*agentflow.Node)

// WithDisplayName sets a human readable node name
func WithDisplayName(name string) NodeOption {
	return func(n *agentflow.Node) {
		n.Name = name
	}
}

// WithTimeout sets the invoker timeout in seconds
func WithTimeout(seconds int) NodeOption {
	return func(n *agentflow.Node) {
		n.Config.TimeoutSeconds = seconds
	}
}

// Skill creates a task node that runs a skill with args
func Skill(id, name, args string, opts ...NodeOption) agentflow.Node {
	return task(id, agentflow.NodeConfig{NodeType: agentflow.HandlerSkill.String(), Name: name, Args: args}, opts)
}

// Agent creates a task node that sends prompt to an agent
func Agent(id, name, prompt string, opts ...NodeOption) agentflow.Node {
	return task(id, agentflow.NodeConfig{NodeType: agentflow.HandlerAgent.String(), Name: name, Prompt: prompt}, opts)
}

// Team creates a task node that sends prompt to an agent team
func Team(id, name, prompt string, opts ...NodeOption) agentflow.Node {
	return task(id, agentflow.NodeConfig{NodeType: agentflow.HandlerTeam.String(), Name: name, Prompt: prompt}, opts)
}

func task(id string, config agentflow.NodeConfig, opts []NodeOption) agentflow.Node {
	node := agentflow.Node{ID: id, Kind: agentflow.NodeKindTask, Config: config}
	for _, opt := range opts {
		opt(&node)
	}
	return node
}
