package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Cloud Code/Antigravity reverse-proxy gateway",
	Long:  "Multiplexes OpenAI, Anthropic and Gemini wire protocols onto a pool of Cloud Code/Antigravity accounts.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
}
