package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/thebtf/newsify/internal/embedding"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "newsify %s\n", Version)
		fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Built:      %s\n", BuildTime)
		fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		for _, m := range embedding.ListModels() {
			fmt.Fprintf(out, "  Embedding:  %s (%d dims) %s\n", m.Version, m.Dimensions, m.Description)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
