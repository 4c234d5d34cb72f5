package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fmerge/fmerge/cmd"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "fmerge",
		Short: "A CLI file deduplicator",
		Long: `A CLI application that consolidates content-identical files on one
filesystem into hardlinks.
`,
	}

	// Parse persistent flags
	rootCmd.PersistentFlags().StringVar(&cmd.FlagConfigFolder, "config-dir", cmd.FlagConfigFolder, "Config folder")
	rootCmd.PersistentFlags().StringVarP(&cmd.FlagConfigFile, "config", "c", cmd.FlagConfigFile, "Config file")
	rootCmd.PersistentFlags().StringVarP(&cmd.FlagLogFile, "log", "l", cmd.FlagLogFile, "Log file")
	rootCmd.PersistentFlags().CountVarP(&cmd.FlagLogLevel, "verbose", "v", "Verbose level")

	rootCmd.PersistentFlags().BoolVar(&cmd.FlagDryRun, "dry-run", false, "Dry run mode")

	rootCmd.AddCommand(cmd.MergeCommand())
	rootCmd.AddCommand(cmd.ScanCommand())
	rootCmd.AddCommand(cmd.BatchCommand())
	rootCmd.AddCommand(cmd.CollectCommand())
	rootCmd.AddCommand(cmd.ConsolidateCommand())
	rootCmd.AddCommand(cmd.UpdateCommand())
	rootCmd.AddCommand(cmd.VersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
