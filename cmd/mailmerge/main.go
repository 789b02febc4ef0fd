/*
Package main provides the CLI entry point for the mail merge.
*/
package main

import (
	"os"

	"github.com/shineum/smtp-mailmerge/internal/cmd"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(runerr.ExitCode(err))
	}
}
