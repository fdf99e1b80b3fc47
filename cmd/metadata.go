package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/appstore-research/mascache/internal/store"
)

var metadataStore string

type metadataJSON struct {
	Store     string `json:"store"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

var metadataCmd = &cobra.Command{
	Use:   "metadata [app]",
	Short: "Print the latest recorded metadata for an application",
	Long: `Return metadata for a given application. The latest snapshot found in the
storefront cache is returned, formatted the way the store uses it internally;
the format may change between storefront releases.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad application id %q: %w", args[0], err)
		}

		path, err := repositoryPath()
		if err != nil {
			return err
		}
		repo, err := store.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()

		country := metadataStore
		if country == "" {
			st, err := repo.FirstStore()
			if err != nil {
				return fmt.Errorf("no stores found")
			}
			country = st.Country
		}

		m, err := repo.LatestMetadata(appID, country)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no metadata for app: %d", appID)
		}
		if err != nil {
			return err
		}

		doc, err := m.Doc()
		if err != nil {
			return err
		}
		if doc["type"] == "app-bundles" {
			return fmt.Errorf("id belongs to an application bundle: %d", appID)
		}

		result := metadataJSON{
			Store:     m.Country,
			Source:    m.Source,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
			Data:      doc,
		}
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(result))
		return nil
	},
}

func init() {
	metadataCmd.Flags().StringVarP(&metadataStore, "store", "s", "",
		"Store country code, e.g. us or de (default: first store on record)")
	rootCmd.AddCommand(metadataCmd)
}
