package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fencepost/rbprof/abi"
	"github.com/fencepost/rbprof/versionreader"
)

// printTrace renders a StackTrace the same oldest-first, youngest-last way
// abi.encodeTrace does for the C ABI, one frame per line for readability.
func printTrace(cmd *cobra.Command, trace *versionreader.StackTrace) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pid %d, %d frame(s):\n", trace.PID, len(trace.Frames))
	n := len(trace.Frames)
	cwd, _ := os.Getwd()
	for i := n - 1; i >= 0; i-- {
		f := trace.Frames[i]
		fmt.Fprintf(out, "  %s - %s:%d\n", f.MethodName, abi.ShortenPath(f.Path, cwd), f.Line)
	}
}
