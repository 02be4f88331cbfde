// Package cmd implements the procpool command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errCommandsFailed is returned by run when at least one command failed;
// the details are already in the summary, so Execute only sets the exit code.
var errCommandsFailed = errors.New("one or more commands failed")

// NewRootCmd builds the procpool command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "procpool",
		Short:         "Run shell commands in parallel with a concurrency cap",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(CreateRunCmd())
	root.AddCommand(CreateVersionCmd())
	return root
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errCommandsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
