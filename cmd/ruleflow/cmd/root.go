package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion returns the version line.
func PrintVersion() string {
	return fmt.Sprintf("ruleflow v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command for the ruleflow CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ruleflow",
		Short: "ruleflow - run and check frame-driven module setups",
		Long: `ruleflow drives orchestrator trees built from setup descriptor files.
Descriptors are YAML, TOML or JSON files listing setups, their rules, orderings
and policies. Rule types without a registered factory run as scripted rules.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.SetVersionTemplate(PrintVersion() + "\n")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	return cmd
}
