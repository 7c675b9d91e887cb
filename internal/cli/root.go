// Package cli defines Cobra command definitions for the drydock CLI.
// This file contains the root command and help output.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "drydock",
	Short: "Autonomous multi-stage change session orchestrator",
	Long: `Drydock drives a software change through five stages: discovery,
plan review, implementation, change submission, and submission review.
Each stage runs agent turns whose output is parsed, verified, and
checked against the persisted plan; stages advance only when the plan
itself says the work is done.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(breakerCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(reportCmd)
}
