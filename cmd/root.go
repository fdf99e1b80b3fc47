// Package cmd wires the mascache subcommands.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "mascache",
	Short: "Reconcile the Mac App Store's response cache into a durable database",
	Long: `mascache scans the cache of the Mac App Store (MAS) for applications,
charts, and application metadata, and reconciles them into a local database.
Since the MAS aggressively clears its cache, scan should be run repeatedly
while browsing the store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "",
		"Path to the repository database (default ~/.mascache/mas.db)")
}

// repositoryPath resolves the --db flag, defaulting to ~/.mascache/mas.db and
// creating the directory if needed.
func repositoryPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	dir := filepath.Join(home, ".mascache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "mas.db"), nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
