// Package main provides the entry point for the barqctl CLI.
package main

import (
	"os"

	"github.com/barqdb/barq/cmd/barqctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
