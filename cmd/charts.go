package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/appstore-research/mascache/internal/store"
	"github.com/appstore-research/mascache/internal/ux"
)

var (
	chartsList  bool
	chartsJSON  bool
	skipBundles bool
	skipUnknown bool
	chartsType  string
	chartsGenre int64
	chartsStore string
)

type chartEntryJSON struct {
	Position int   `json:"position"`
	AppID    int64 `json:"app_id"`
}

type chartJSON struct {
	Type      string           `json:"type"`
	Genre     int64            `json:"genre"`
	Store     string           `json:"store"`
	Timestamp string           `json:"timestamp"`
	Entries   []chartEntryJSON `json:"entries"`
}

var chartsCmd = &cobra.Command{
	Use:   "charts",
	Short: "Print or export the latest recorded charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var chartType store.ChartType
		switch chartsType {
		case "free":
			chartType = store.ChartFree
		case "paid":
			chartType = store.ChartPaid
		default:
			return fmt.Errorf("unknown chart type %q (expected free or paid)", chartsType)
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

		country := chartsStore
		if country == "" {
			st, err := repo.FirstStore()
			if err != nil {
				return fmt.Errorf("no stores found")
			}
			country = st.Country
		}

		chart, err := repo.LatestChart(chartsGenre, country, chartType)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no charts found")
		}
		if err != nil {
			return err
		}

		entries, err := repo.ChartEntries(chart.ID)
		if err != nil {
			return err
		}

		type row struct {
			entry store.ChartEntry
			info  store.AppInfo
		}
		var filtered []row
		for _, entry := range entries {
			info, err := repo.AppInfo(entry.ApplicationID)
			if err != nil {
				return err
			}
			if skipBundles && info.Bundle {
				continue
			}
			if skipUnknown && !info.Known {
				continue
			}
			filtered = append(filtered, row{entry: entry, info: info})
		}

		out := cmd.OutOrStdout()
		switch {
		case chartsList:
			for _, r := range filtered {
				fmt.Fprintln(out, r.entry.ApplicationID)
			}
		case chartsJSON:
			result := chartJSON{
				Type:      chart.ChartType.API(),
				Genre:     chart.GenreID,
				Store:     chart.Country,
				Timestamp: chart.Timestamp.UTC().Format(time.RFC3339),
				Entries:   []chartEntryJSON{},
			}
			for _, r := range filtered {
				result.Entries = append(result.Entries, chartEntryJSON{
					Position: r.entry.Position + 1,
					AppID:    r.entry.ApplicationID,
				})
			}
			fmt.Fprintln(out, oj.JSON(result))
		default:
			genre, err := repo.GetGenre(chart.GenreID)
			if err != nil {
				return err
			}
			ux.Headf(out, "Store", "%s", chart.Country)
			ux.Headf(out, "Genre", "%s", genre.Display())
			ux.Headf(out, "Type", "%s", chart.ChartType)
			ux.Headf(out, "State", "%s", chart.Timestamp.UTC().Format(time.RFC3339))
			fmt.Fprintln(out)
			fmt.Fprintln(out, ux.Bold.Render(fmt.Sprintf("Pos %-11s %-50s %s", "ID", "Bundle ID", "Name")))
			for i, r := range filtered {
				bundleID := r.info.BundleID
				if bundleID == "" {
					bundleID = "-"
				}
				name := r.info.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(out, "%3d %11d %-50s %s\n", i+1, r.entry.ApplicationID, bundleID, name)
			}
		}
		return nil
	},
}

func init() {
	chartsCmd.Flags().BoolVar(&chartsList, "list", false,
		"Print only the application IDs in chart-position order")
	chartsCmd.Flags().BoolVar(&chartsJSON, "json", false,
		"Print the chart as a compact JSON object")
	chartsCmd.MarkFlagsMutuallyExclusive("list", "json")
	chartsCmd.Flags().BoolVar(&skipBundles, "skip-bundles", false,
		"Skip application bundles such as office suites")
	chartsCmd.Flags().BoolVar(&skipUnknown, "skip-unknown", false,
		"Skip applications without resolvable metadata")
	chartsCmd.Flags().StringVarP(&chartsType, "type", "t", "free",
		"Chart type to display (free or paid)")
	chartsCmd.Flags().Int64VarP(&chartsGenre, "genre", "g", 36,
		"Storefront genre identifier (default: App Store)")
	chartsCmd.Flags().StringVarP(&chartsStore, "store", "s", "",
		"Store country code, e.g. us or de (default: first store on record)")
	rootCmd.AddCommand(chartsCmd)
}
