// Package main provides the entry point for the objectstore CLI.
package main

import (
	"os"

	"github.com/sugarlabs/sugar-datastore/cmd/objectstore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
