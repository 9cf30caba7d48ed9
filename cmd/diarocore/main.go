// Command diarocore is the composition root: it loads Settings, wires
// the Archive Store, Audit Ledger, Job Registry and CPU Governor
// together, and dispatches to the cobra subcommands. It constructs no
// Scheduler or Transcription Worker (no ASR adapter is wired here), so
// submit returns an error. Modeled on the teacher's cmd/root.go +
// RootCommand(settings) pattern.
package main

import (
	"fmt"
	"os"

	"github.com/clinisys/diarocore/internal/config"
)

func main() {
	configPath := os.Getenv("DIAROCORE_CONFIG")
	settings, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "diarocore: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	root := RootCommand(settings)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "diarocore: %v\n", err)
		os.Exit(1)
	}
}
