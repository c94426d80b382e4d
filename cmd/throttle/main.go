package main

import (
	"fmt"
	"os"

	"github.com/ryhazerus/throttle/internal/cmd"
)

// Version information set via ldflags during build.
var version = "dev"

func main() {
	cmd.SetVersion(version)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "throttle:", err)
		os.Exit(1)
	}
}
