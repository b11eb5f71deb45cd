package agentflow

import "time"

// DefaultMaxIterations bounds a loop that does not set max_iterations
const DefaultMaxIterations = 10

// EngineConfig holds engine-level configuration
type EngineConfig struct {
	// DefaultTimeout is passed to the invoker when a node has no timeout_seconds
	DefaultTimeout time.Duration

	// DefaultMaxIterations applies to loop nodes without max_iterations
	DefaultMaxIterations int

	// MaxParallelBranches caps concurrent gateway branches. 0 means unlimited.
	MaxParallelBranches int
}

// DefaultEngineConfig provides engine defaults
var DefaultEngineConfig = EngineConfig{
	DefaultTimeout:       5 * time.Minute,
	DefaultMaxIterations: DefaultMaxIterations,
	MaxParallelBranches:  0,
}

// NodeTimeout returns the timeout to hand the invoker for a node
func (c EngineConfig) NodeTimeout(node *Node) time.Duration {
	if node.Config.TimeoutSeconds > 0 {
		return time.Duration(node.Config.TimeoutSeconds) * time.Second
	}
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return DefaultEngineConfig.DefaultTimeout
}

// MaxIterations returns the iteration bound for a loop node
func (c EngineConfig) MaxIterations(node *Node) int {
	if node.MaxIterations != nil {
		return *node.MaxIterations
	}
	if c.DefaultMaxIterations > 0 {
		return c.DefaultMaxIterations
	}
	return DefaultMaxIterations
}
