package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/appstore-research/mascache/internal/cache"
	"github.com/appstore-research/mascache/internal/scan"
	"github.com/appstore-research/mascache/internal/store"
	"github.com/appstore-research/mascache/internal/ux"
)

var containerPath string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the storefront cache and reconcile it into the database",
	Long: `Scan the cache of the Mac App Store (MAS) for applications, charts, and
application metadata. Since the MAS aggressively clears the cache, the command
should be run multiple times while browsing the MAS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		container := containerPath
		if container == "" {
			if runtime.GOOS != "darwin" {
				return fmt.Errorf("the live storefront container only exists on macOS; pass --container to scan a copy")
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home dir: %w", err)
			}
			container = filepath.Join(home, "Library/Containers/com.apple.appstore/Data")
		}

		c, err := cache.Open(container)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		path, err := repositoryPath()
		if err != nil {
			return err
		}
		repo, err := store.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()

		resolver := &cache.Resolver{
			DataDir: c.DataDir(),
			Warnf: func(format string, args ...any) {
				ux.Warnf(os.Stderr, format, args...)
			},
		}
		engine := &scan.Engine{
			Repo:     repo,
			Resolver: scan.NewTerminalResolver(os.Stdin, os.Stdout),
			Out:      os.Stdout,
		}

		return c.Stream(func(row cache.Row) error {
			doc, err := resolver.Resolve(row)
			if err != nil {
				return err
			}
			return engine.ProcessResource(doc, row.Source, row.Timestamp)
		})
	},
}

func init() {
	scanCmd.Flags().StringVar(&containerPath, "container", "",
		"Storefront container root (default: the live MAS container)")
	rootCmd.AddCommand(scanCmd)
}
