// Package main is the entry point for the feedplay application.
package main

import (
	"os"

	"github.com/jmylchreest/feedplay/cmd/feedplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
