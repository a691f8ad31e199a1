package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/upjong-lab/district-cli/internal/export"
	"github.com/upjong-lab/district-cli/internal/source"
	"github.com/upjong-lab/district-cli/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the statistics of one district",
	Long: `Aggregate the descriptive statistics of a district: open/close
trends, startup survival rates, rents, store counts, population, and
per-zone sales breakdowns.

Examples:
  stats --region-name 서교동 --region-code 1144066
  stats --region-name 서교동 --region-code 1144066 --format json
  stats --region-name 서교동 --region-code 1144066 --format xlsx --output seogyo.xlsx`,
	RunE: runStats,
}

func init() {
	f := statsCmd.Flags()
	f.String("region-name", "", "district display name (required)")
	f.String("region-code", "", "district region code (required)")
	f.String("format", "table", "output format: table, json, or xlsx")
	f.String("output", "", "output file path (required for xlsx)")

	_ = statsCmd.MarkFlagRequired("region-name")
	_ = statsCmd.MarkFlagRequired("region-code")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	regionName, _ := cmd.Flags().GetString("region-name")
	regionCode, _ := cmd.Flags().GetString("region-code")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	if format != "table" && format != "json" && format != "xlsx" {
		return eris.Errorf("stats: --format must be table, json, or xlsx (got %q)", format)
	}
	if format == "xlsx" && outputPath == "" {
		return eris.New("stats: --format xlsx requires --output")
	}

	pg, err := source.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer pg.Close()

	svc := stats.New(pg.Pool(), cfg.Store.QueryTimeout(), cfg.Scoring.SalesYears)
	sum, err := svc.DistrictSummary(ctx, regionName, regionCode)
	if err != nil {
		return eris.Wrapf(err, "stats: summarize %s", regionName)
	}

	switch format {
	case "xlsx":
		return export.WriteSummary(outputPath, sum)
	case "json":
		return writeSummaryJSON(sum, outputPath)
	default:
		return writeSummaryTable(sum)
	}
}

func writeSummaryJSON(sum *stats.Summary, outputPath string) error {
	w := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "stats: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return eris.Wrap(enc.Encode(sum), "stats: encode summary")
}

func writeSummaryTable(sum *stats.Summary) error {
	fmt.Printf("District: %s (%s)\n\n", sum.RegionName, sum.RegionCode)

	fmt.Println("Open / close by year:")
	for _, oc := range sum.OpenClose {
		fmt.Printf("  %d  opened %-6d closed %d\n", oc.Year, oc.NumOpen, oc.NumClose)
	}

	fmt.Printf("\nSurvival rates:  1yr %.1f%%  3yr %.1f%%  5yr %.1f%%\n",
		sum.Survival.OneYear, sum.Survival.ThreeYear, sum.Survival.FiveYear)
	fmt.Printf("Rent per m²:     1st floor %.1f  other floors %.1f\n",
		sum.Rent.FirstFloor, sum.Rent.OtherFloors)
	fmt.Printf("Population/ha:   floating %.1f  residential %.1f  working %.1f\n",
		sum.Population.Floating, sum.Population.Residential, sum.Population.Working)

	fmt.Println("\nStore counts by year:")
	for _, sc := range sum.Stores {
		fmt.Printf("  %d  total %-6d franchise %-6d independent %d\n",
			sc.Year, sc.Total, sc.Franchise, sc.NonFranchise)
	}

	fmt.Printf("\nCommercial zones (%d):\n", len(sum.Zones))
	for _, z := range sum.Zones {
		fmt.Printf("  %s (%s)\n", z.ZoneName, z.ZoneID)
		fmt.Printf("    per-store sales: weekday %.1f  weekend %.1f  avg order %.1f\n",
			z.WeekdayPerStore, z.WeekendPerStore, z.AvgOrderValue)
		if len(z.ByDay.Labels) > 0 {
			fmt.Printf("    busiest day:  %s\n", topBreakdownLabel(z.ByDay))
		}
		if len(z.ByHour.Labels) > 0 {
			fmt.Printf("    busiest hour: %s\n", topBreakdownLabel(z.ByHour))
		}
	}
	return nil
}

func topBreakdownLabel(b stats.Breakdown) string {
	best, bestV := "", 0.0
	for i, label := range b.Labels {
		if i == 0 || b.Values[i] > bestV {
			best, bestV = label, b.Values[i]
		}
	}
	return best
}
