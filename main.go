// Package main is the entry point for the chronicle NFS traffic reconstructor.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/chronicle/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
