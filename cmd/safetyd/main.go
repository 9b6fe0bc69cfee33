package main

import (
	"os"

	"github.com/terminal-bench/safetywatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
