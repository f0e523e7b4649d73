// Package main is the entry point for the tabfetch CLI.
package main

import (
	"os"

	"github.com/jmylchreest/tabfetch/cmd/tabfetch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
