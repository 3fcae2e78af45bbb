package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	callerID string
)

var rootCmd = &cobra.Command{
	Use:   "v2v",
	Short: "Turn voice memos into structured idea folders",
	Long: `v2v transcribes voice memos, analyzes them with a local model and files
each one as an idea folder that can be searched and exported.

Run "v2v start" to launch the server; the other commands talk to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&callerID, "as", os.Getenv("V2V_CALLER_ID"), "caller id to act as (default $V2V_CALLER_ID)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(submitCmd, jobCmd)
	rootCmd.AddCommand(ideasCmd, infoCmd, renameCmd, deleteCmd)
	rootCmd.AddCommand(searchCmd, suggestCmd, recentCmd, statsCmd)
	rootCmd.AddCommand(exportCmd, linksCmd, revokeCmd, downloadCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("v2v %s", version)
}
