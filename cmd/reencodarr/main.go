// Command reencodarr is the automated AV1 re-encoding orchestrator daemon.
package main

import (
	"fmt"
	"os"

	"github.com/mjc/reencodarr-sub000/cmd/reencodarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
