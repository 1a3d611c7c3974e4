// Package main provides the entry point for newsify.
package main

import (
	"os"

	"github.com/thebtf/newsify/cmd/newsify/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
