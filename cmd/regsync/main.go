// Command regsync is the command-line entry point for the registry sync
// pipeline.
package main

import (
	"os"

	"github.com/kilupskalvis/regsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
