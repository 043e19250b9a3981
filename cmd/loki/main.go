// Package main provides the entry point for the loki CLI.
package main

import (
	"os"

	"github.com/mikeplath/LOKIV2/cmd/loki/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.ReportError(os.Stderr, err)
		os.Exit(1)
	}
}
