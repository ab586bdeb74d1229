package main

import "github.com/juniormsyoka/med-assistant-front-sub000/internal/cli"

// set by -ldflags at build time
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildDate = version, commit, buildDate
	cli.Execute()
}
