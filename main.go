package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "interviewer",
	Short: "Interviews a witness and writes a local news article",
	Long: `interviewer asks a reader what happened, follows up until the language model
has enough material, then writes a news article and saves it next to the dialogue.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config.json or config.yaml (defaults and env only when empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
