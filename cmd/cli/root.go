package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var conflictPolicy string

var rootCmd = &cobra.Command{
	Use:   "orchestra-cli",
	Short: "orchestra-cli is the command-line interface for the dispatch engine.",
	Long:  `A CLI for administrative tasks against the vacancy dispatch engine, such as inspecting needs, listing offers and triggering dispatch cycles.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&conflictPolicy, "conflict-policy", "p", "", "Conflict resolution policy (simple, detailed, smart)")

	if err := viper.BindPFlag("CONFLICT_POLICY", rootCmd.PersistentFlags().Lookup("conflict-policy")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in ENV variables if set.
func initConfig() {
	viper.AutomaticEnv()
}
