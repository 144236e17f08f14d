// Command invokerctl is a thin demonstration binary wiring the invocation
// core's components together: it loads configuration and builds a compute
// backend and metadata store from flags; its run subcommand submits one
// job description, and its serve subcommand accepts jobs over HTTP and
// serves Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "invokerctl",
		Short: "Drive the invocation core against a compute backend",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	return root
}
