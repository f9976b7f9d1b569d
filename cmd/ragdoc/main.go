// Command ragdoc is the entry point for the ragdoc retrieval pipeline.
// It provides a CLI interface (via Cobra) for ingestion and querying, and an
// HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragdoc/cmd/ragdoc/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
