// Command liveassist runs the assistant session from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:          "liveassist",
	Short:        "Live screen and audio assistant",
	Long:         `liveassist streams a microphone and a screen or window to an assistant backend and prints its replies.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "liveassist v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
