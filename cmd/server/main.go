// Package main is the entry point for the spot optimizer server.
// The server scores pool pricing risk, decides switches for agent
// fleets, and tracks realized savings.
package main

import (
	"os"

	"github.com/softcane/spot-optimizer/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
