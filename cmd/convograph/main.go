// Package main is the entry point for the convograph CLI.
package main

import (
	"os"

	"github.com/convograph/convograph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
