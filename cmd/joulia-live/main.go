// joulia-live serves real-time brewing telemetry.
//
// Usage:
//
//	joulia-live serve
//	joulia-live serve --port 8790 --store sqlite
//	joulia-live status
package main

import (
	"os"

	"github.com/joulia/joulia-live/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
