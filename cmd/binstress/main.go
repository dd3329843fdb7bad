// Package main provides binstress, a soak tool for tree bins.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "binstress",
		Short: "Stress a concurrent tree bin",
		Long: `binstress runs one writer against many readers on a single tree bin
and fails if a reader ever observes a reclaimed or wrong node.

Commands:
  run       Run a stress round and print the result table`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every writer round")
	rootCmd.AddCommand(newRunCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
