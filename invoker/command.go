// Package invoker provides agentflow.Invoker implementations.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
)

// Commands maps each handler type to an argv template. Every argument may
// contain {{name}}, {{prompt}} and {{args}} placeholders. An argument that is
// exactly {{args}} is split on whitespace into separate arguments.
type Commands struct {
	Skill []string `toml:"skill"`
	Agent []string `toml:"agent"`
	Team  []string `toml:"team"`
}

func (c Commands) template(handler agentflow.HandlerType) []string {
	switch handler {
	case agentflow.HandlerSkill:
		return c.Skill
	case agentflow.HandlerAgent:
		return c.Agent
	case agentflow.HandlerTeam:
		return c.Team
	}
	return nil
}

// CommandInvoker runs work units as external processes. Commands are started
// directly, never through a shell.
type CommandInvoker struct {
	commands Commands
	dir      string
	env      []string
	logger   zerolog.Logger
}

// CommandOption configures a CommandInvoker
type CommandOption func(*CommandInvoker)

// WithDir sets the working directory of spawned commands
func WithDir(dir string) CommandOption {
	return func(c *CommandInvoker) {
		c.dir = dir
	}
}

// WithEnv adds environment variables on top of the process environment
func WithEnv(env map[string]string) CommandOption {
	return func(c *CommandInvoker) {
		for k, v := range env {
			c.env = append(c.env, fmt.Sprintf("%s=%s", k, v))
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) CommandOption {
	return func(c *CommandInvoker) {
		c.logger = logger
	}
}

// NewCommandInvoker creates an invoker for the given templates
func NewCommandInvoker(commands Commands, opts ...CommandOption) *CommandInvoker {
	c := &CommandInvoker{
		commands: commands,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExecuteSkill implements agentflow.Invoker
func (c *CommandInvoker) ExecuteSkill(ctx context.Context, name, args string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return c.run(ctx, agentflow.HandlerSkill, map[string]string{"name": name, "args": args}, timeout)
}

// ExecuteWithAgent implements agentflow.Invoker
func (c *CommandInvoker) ExecuteWithAgent(ctx context.Context, name, prompt string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return c.run(ctx, agentflow.HandlerAgent, map[string]string{"name": name, "prompt": prompt}, timeout)
}

// ExecuteWithTeam implements agentflow.Invoker
func (c *CommandInvoker) ExecuteWithTeam(ctx context.Context, name, prompt string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return c.run(ctx, agentflow.HandlerTeam, map[string]string{"name": name, "prompt": prompt}, timeout)
}

func (c *CommandInvoker) run(ctx context.Context, handler agentflow.HandlerType, values map[string]string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	argv := expand(c.commands.template(handler), values)
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command configured for %s handler", handler)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	c.logger.Debug().
		Str("handler", handler.String()).
		Str("name", values["name"]).
		Strs("argv", argv).
		Msg("Starting command")

	err := cmd.Run()

	stdoutStr := strings.TrimSpace(stdout.String())
	stderrStr := strings.TrimSpace(stderr.String())

	c.logger.Debug().
		Str("handler", handler.String()).
		Str("name", values["name"]).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Command finished")

	if err != nil {
		// parent cancellation is the caller's error, a local deadline is a failed work unit
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return timedOut(timeout), nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := stderrStr
			if msg == "" {
				msg = fmt.Sprintf("exit status %d", exitErr.ExitCode())
			}
			return &agentflow.InvocationResult{Success: false, Output: stdoutStr, Error: msg}, nil
		}
		return nil, fmt.Errorf("start %s command: %w", handler, err)
	}

	return parseOutput(stdoutStr), nil
}

func expand(template []string, values map[string]string) []string {
	if len(template) == 0 {
		return nil
	}

	replacer := strings.NewReplacer(
		"{{name}}", values["name"],
		"{{prompt}}", values["prompt"],
		"{{args}}", values["args"],
	)

	argv := make([]string, 0, len(template))
	for _, arg := range template {
		if arg == "{{args}}" {
			argv = append(argv, strings.Fields(values["args"])...)
			continue
		}
		argv = append(argv, replacer.Replace(arg))
	}
	return argv
}

// commandReport is the optional structured stdout of a work unit
type commandReport struct {
	Success   *bool          `json:"success"`
	Output    *string        `json:"output"`
	Error     string         `json:"error"`
	Variables map[string]any `json:"variables"`
}

// parseOutput treats stdout as an InvocationResult when it is a JSON object
// with an output field, and as plain output otherwise.
func parseOutput(stdout string) *agentflow.InvocationResult {
	if strings.HasPrefix(stdout, "{") {
		var report commandReport
		if err := json.Unmarshal([]byte(stdout), &report); err == nil && report.Output != nil {
			result := &agentflow.InvocationResult{
				Success:   true,
				Output:    *report.Output,
				Error:     report.Error,
				Variables: report.Variables,
			}
			if report.Success != nil {
				result.Success = *report.Success
			}
			return result
		}
	}
	return &agentflow.InvocationResult{Success: true, Output: stdout}
}

func timedOut(timeout time.Duration) *agentflow.InvocationResult {
	return &agentflow.InvocationResult{
		Success: false,
		Error:   fmt.Sprintf("timed out after %s", timeout),
	}
}
