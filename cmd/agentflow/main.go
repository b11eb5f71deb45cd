package main

import (
	"fmt"
	"os"

	"github.com/sicko7947/agentflow/cmd/agentflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
