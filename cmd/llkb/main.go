package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "llkb",
	Short:   "Lessons-learned knowledge base for browser test generation",
	Version: version,
	Long: `llkb stores code patterns, reusable components, and their outcome
statistics, and ranks them against a journey for injection into a
generation prompt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(lessonsCmd)
	rootCmd.AddCommand(componentsCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
