// Package main is the entry point for the groupforge CLI.
package main

import (
	"os"

	"github.com/KafClaw/groupforge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
