// NextVibe — task classification and sandboxed execution engine for coding assistants.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nextvibe",
	Short: "NextVibe — coding-assistant engine with sandboxed code execution.",
	Long: `NextVibe is the engine behind a coding-assistant bot. It classifies incoming
requests (bug fix, feature, analysis, debug), collaborates with an LLM to
produce an answer and runnable code, executes that code inside a hardened
sandbox, and returns the narrative together with the real execution output.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, queryCmd, initCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
