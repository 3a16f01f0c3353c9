package main

import (
	"context"
	"fmt"
	"os"

	app "github.com/valter-silva-au/sfini/internal"
	"github.com/valter-silva-au/sfini/internal/cli"
)

// Set by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)

	a, err := app.NewApp(app.ResolveBasePath(), app.ResolveProjectPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing sfini: %v\n", err)
		os.Exit(1)
	}

	err = cli.ExecuteContext(context.Background())
	_ = a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
