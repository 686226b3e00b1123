package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvexpr/phkv/lib/store"
)

const version = "0.1.0"

// activeStore is the Store built from --mounts for the lifetime of one
// command invocation; set up in PersistentPreRunE, torn down in
// PersistentPostRunE.
var activeStore *store.Store

var rootCmd = &cobra.Command{
	Use:   "phkv",
	Short: "embedded hierarchical key/value store",
	Long: fmt.Sprintf(`phkv (v%s)

A single-process embedded key/value store with a hierarchical namespace
assembled from one or more on-disk volumes mounted at different paths.`, version),
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindPersistentFlags(cmd); err != nil {
			return err
		}
		s, err := buildStoreFromFlags()
		if err != nil {
			return err
		}
		activeStore = s
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if activeStore == nil {
			return nil
		}
		return activeStore.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of phkv",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("phkv v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setupPersistentFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(eraseDirCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(metricsCmd)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
