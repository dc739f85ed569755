// Command orcapod is a thin cobra-based front end over the orcapod
// library: it loads a store/pipeline config, runs a CSV-sourced pipeline
// against it, and offers read-only inspection of a store's contents. It
// contains no pipeline algorithms of its own; everything here delegates to
// the pipeline, store, orcaconfig, and orcaobs packages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "orcapod",
		Short: "Run and inspect OrcaPod content-addressed data pipelines",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newVerifyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "orcapod: %v\n", err)
		os.Exit(1)
	}
}
