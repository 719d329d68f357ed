package main

import (
	"os"

	"github.com/lamallamadel/brainego-sub004/cmd"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Set version information for the CLI
	cmd.SetVersionInfo(Version, BuildTime, GitCommit)
	os.Exit(cmd.Execute())
}
