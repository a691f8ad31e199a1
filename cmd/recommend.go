package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/export"
	"github.com/upjong-lab/district-cli/internal/model"
	"github.com/upjong-lab/district-cli/internal/pipeline"
	"github.com/upjong-lab/district-cli/internal/snapshot"
	"github.com/upjong-lab/district-cli/internal/source"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Score and rank districts or industries",
	Long: `Run the weighted composite scoring pipeline for a scope.

Area mode ranks the administrative districts of a borough for a given
business category. Industry mode ranks business categories within one
district. Metrics are averaged over the most recent reporting periods,
min-max normalized across the candidate set, and combined with signed
weights; the top entities are printed with their raw metric values.

Examples:
  # Rank districts of a borough for Korean restaurants
  recommend --mode area --gu-code 11440 --gu-name 마포구 --category 한식음식점 --service-code CS100001

  # Rank industries within one district
  recommend --mode industry --region-code 1144066 --region-name 서교동

  # Custom weights, top 10, XLSX export
  recommend --mode area --gu-code 11440 --weights weights.yaml --top 10 --format xlsx --output ranking.xlsx`,
	RunE: runRecommend,
}

func init() {
	f := recommendCmd.Flags()
	f.String("mode", "area", "scoring mode: area or industry")
	f.String("gu-code", "", "borough region-code prefix (area mode; narrows --region-name in industry mode)")
	f.String("gu-name", "", "borough display name (area mode)")
	f.String("region-code", "", "district region code (industry mode)")
	f.String("region-name", "", "district display name (industry mode)")
	f.String("category", "", "business category name (area mode)")
	f.String("service-code", "", "service code of the category, used for sales tables")
	f.Int("top", 0, "number of entities to show (0=use config default)")
	f.String("weights", "", "YAML file replacing the configured weights")
	f.String("format", "table", "output format: table, csv, or xlsx")
	f.String("output", "", "output file path (default: stdout; required for xlsx)")
	f.Bool("no-cache", false, "bypass the table snapshot cache")
	f.Bool("save", false, "persist the full ranked table to the database")

	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	scope, err := scopeFromFlags(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	if format != "table" && format != "csv" && format != "xlsx" {
		return eris.Errorf("recommend: --format must be table, csv, or xlsx (got %q)", format)
	}
	if format == "xlsx" && outputPath == "" {
		return eris.New("recommend: --format xlsx requires --output")
	}

	scoringCfg := cfg.Scoring
	if top, _ := cmd.Flags().GetInt("top"); top > 0 {
		scoringCfg.TopK = top
	}

	var opts []pipeline.Option
	if weightsPath, _ := cmd.Flags().GetString("weights"); weightsPath != "" {
		w, err := pipeline.LoadWeightsFile(weightsPath)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithWeights(w))
	}

	src, pg, cleanup, err := buildSource(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// Industry mode accepts a district name alone; resolve it to a code.
	if scope.Kind == model.ScopeIndustry && scope.RegionCode == "" {
		code, err := pg.LookupRegion(ctx, scope.GuCode, scope.RegionName)
		if err != nil {
			return err
		}
		scope.RegionCode = code
	}

	p := pipeline.New(src, scoringCfg, opts...)

	log := zap.L().With(zap.String("command", "recommend"))
	log.Info("starting scoring run", zap.String("scope", scope.String()))

	result, err := p.Run(ctx, scope)
	if err != nil {
		if source.IsScopeNotFound(err) {
			return eris.Wrapf(err, "recommend: scope %s has no data", scope)
		}
		return eris.Wrap(err, "recommend: run")
	}

	columns := p.ScoreColumns(scope.Kind)

	if save, _ := cmd.Flags().GetBool("save"); save {
		store := pipeline.NewResultStore(pg.Pool())
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		runID, err := store.Save(ctx, result, columns)
		if err != nil {
			return err
		}
		log.Info("ranked table saved", zap.String("run_id", runID.String()))
	}

	return outputRanked(result, columns, format, outputPath)
}

// buildSource wires the Postgres source, wrapped by the snapshot cache
// unless --no-cache is set. The raw source is returned alongside for
// callers that need direct pool access.
func buildSource(ctx context.Context, cmd *cobra.Command) (source.Source, *source.PostgresSource, func(), error) {
	pg, err := source.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return nil, nil, nil, err
	}

	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		return pg, pg, pg.Close, nil
	}

	store, err := snapshot.NewStore(cfg.Cache.Path)
	if err != nil {
		pg.Close()
		return nil, nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		pg.Close()
		return nil, nil, nil, err
	}

	cached := snapshot.NewCachedSource(pg, store, cfg.Cache.TTL())
	cleanup := func() {
		store.Close()
		pg.Close()
	}
	return cached, pg, cleanup, nil
}

func scopeFromFlags(cmd *cobra.Command) (model.Scope, error) {
	mode, _ := cmd.Flags().GetString("mode")
	guCode, _ := cmd.Flags().GetString("gu-code")
	guName, _ := cmd.Flags().GetString("gu-name")
	regionCode, _ := cmd.Flags().GetString("region-code")
	regionName, _ := cmd.Flags().GetString("region-name")
	category, _ := cmd.Flags().GetString("category")
	serviceCode, _ := cmd.Flags().GetString("service-code")

	switch mode {
	case "area":
		if guCode == "" {
			return model.Scope{}, eris.New("recommend: --mode area requires --gu-code")
		}
		return model.Scope{
			Kind:        model.ScopeDistrict,
			GuCode:      guCode,
			GuName:      guName,
			Category:    category,
			ServiceCode: serviceCode,
		}, nil
	case "industry":
		if regionCode == "" && regionName == "" {
			return model.Scope{}, eris.New("recommend: --mode industry requires --region-code or --region-name")
		}
		return model.Scope{
			Kind:       model.ScopeIndustry,
			GuCode:     guCode,
			RegionCode: regionCode,
			RegionName: regionName,
		}, nil
	default:
		return model.Scope{}, eris.Errorf("recommend: --mode must be area or industry (got %q)", mode)
	}
}

func outputRanked(result *model.RankedResult, columns []string, format, outputPath string) error {
	if format == "xlsx" {
		return export.WriteRanked(outputPath, result, columns)
	}

	var w *os.File
	if outputPath != "" {
		var err error
		w, err = os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "recommend: create output file %s", outputPath)
		}
		defer w.Close() //nolint:errcheck
	} else {
		w = os.Stdout
	}

	switch format {
	case "csv":
		return writeRankedCSV(w, result, columns)
	default:
		return writeRankedTable(w, result)
	}
}

func writeRankedCSV(w *os.File, result *model.RankedResult, columns []string) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := append([]string{"rank", "code", "name"}, columns...)
	header = append(header, "score")
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "recommend: write CSV header")
	}

	for i, e := range result.All {
		row := []string{
			fmt.Sprintf("%d", i+1),
			e.Key,
			e.Name,
		}
		for _, col := range columns {
			row = append(row, fmt.Sprintf("%.2f", e.Metrics[col]))
		}
		row = append(row, fmt.Sprintf("%.4f", e.Score))
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "recommend: write CSV row")
		}
	}
	return nil
}

func writeRankedTable(w *os.File, result *model.RankedResult) error {
	header := fmt.Sprintf("%-4s %-24s %-12s %8s\n", "Rank", "Name", "Code", "Score")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "recommend: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 52)); err != nil {
		return eris.Wrap(err, "recommend: write table separator")
	}

	for i, e := range result.Top {
		name := e.Name
		if len([]rune(name)) > 24 {
			name = string([]rune(name)[:21]) + "..."
		}
		line := fmt.Sprintf("%-4d %-24s %-12s %8.4f\n", i+1, name, e.Key, e.Score)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "recommend: write table row")
		}
	}

	if _, err := fmt.Fprintf(w, "\n%d candidates scored, %d published\n", len(result.All), len(result.Top)); err != nil {
		return eris.Wrap(err, "recommend: write table footer")
	}
	return nil
}
