// Package main is the QuerySight command-line entry point.
package main

import (
	"os"

	"github.com/leapstack-labs/querysight/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
