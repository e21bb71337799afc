// Package main provides the entry point for the petrel CLI.
package main

import (
	"os"

	"github.com/petrel-search/petrel/cmd/petrel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
