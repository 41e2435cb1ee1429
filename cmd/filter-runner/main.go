package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "filter-runner",
		Short: "Filter Runner - chained filter execution with replayable history",
		Long: `Filter Runner executes chains of filter programs against data files.
Every executed filter is kept in a bounded history that can be replayed,
partially or completely, after checking it against the filter definitions
currently on disk.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
