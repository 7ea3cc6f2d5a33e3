package main

import (
	"fmt"
	"os"

	"github.com/auralis/auralis-go/cmd"
	"github.com/auralis/auralis-go/internal/buildinfo"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/telemetry"
)

func main() {
	os.Exit(mainWithExitCode())
}

// mainWithExitCode keeps deferred cleanup ahead of os.Exit.
func mainWithExitCode() int {
	logging.Init()

	// Commands validate for themselves: serve and bench through the
	// pipeline constructor, validate by reporting every problem it finds.
	settings, err := conf.LoadRaw()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	// Telemetry comes up before everything else so startup failures get
	// reported too.
	if err := telemetry.Init(&settings.Sentry, buildinfo.Version()); err != nil {
		logging.Warn("telemetry initialization failed", "error", err)
	}
	defer telemetry.Flush()

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}
