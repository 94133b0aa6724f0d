// Command ambitus runs the market-research pipeline orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/ambitus/orchestrator/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
