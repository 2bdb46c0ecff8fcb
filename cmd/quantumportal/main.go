// Command quantumportal serves the Quantum Portal site.
package main

import (
	"fmt"
	"os"

	"github.com/quantumportal/quantumportal/cmd/quantumportal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
