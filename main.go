// Package main is the entry point for the tablevault server and CLI.
package main

import (
	"fmt"
	"os"

	"tablevault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
