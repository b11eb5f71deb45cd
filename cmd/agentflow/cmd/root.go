package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "agentflow",
	Short: "Workflow execution orchestrator for skills, agents and agent teams",
	Long: `agentflow validates workflow graphs and runs them, dispatching task nodes to
skills, single agents or agent teams, with decisions, parallel gateways and
bounded loops in between.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentflow.toml", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("agentflow {{.Version}}\n")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
