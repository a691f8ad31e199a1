package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upjong-lab/district-cli/internal/snapshot"
	"github.com/upjong-lab/district-cli/internal/source"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the table snapshot cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List cached table snapshots",
	RunE:  runCacheStatus,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove expired snapshots (or everything with --all)",
	RunE:  runCacheClear,
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Pre-populate the cache with every metric table",
	Long: `Fetch every metric table both scoring modes consult and store the
results as snapshots, so the next scoring run hits the cache. Fetches
are rate limited to avoid hammering the source database.`,
	RunE: runCacheWarm,
}

func init() {
	cacheClearCmd.Flags().Bool("all", false, "remove every snapshot, not just expired ones")

	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheWarmCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openSnapshotStore(cmd *cobra.Command) (*snapshot.Store, error) {
	store, err := snapshot.NewStore(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runCacheStatus(cmd *cobra.Command, _ []string) error {
	store, err := openSnapshotStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Entries(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("cache is empty")
		return nil
	}

	fmt.Printf("%-48s %8s %-20s %s\n", "Table", "Rows", "Fetched", "State")
	now := time.Now().UTC()
	for _, e := range entries {
		state := "valid"
		if !e.ExpiresAt.After(now) {
			state = "expired"
		}
		fmt.Printf("%-48s %8d %-20s %s\n",
			e.Name, e.RowCount, e.FetchedAt.Format("2006-01-02 15:04:05"), state)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	store, err := openSnapshotStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	all, _ := cmd.Flags().GetBool("all")
	n, err := store.Clear(cmd.Context(), all)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d snapshot(s)\n", n)
	return nil
}

func runCacheWarm(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	pg, err := source.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer pg.Close()

	store, err := openSnapshotStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	cached := snapshot.NewCachedSource(pg, store, cfg.Cache.TTL())

	perSec := cfg.Cache.WarmRatePerSec
	if perSec <= 0 {
		perSec = 2
	}
	limiter := rate.NewLimiter(rate.Limit(perSec), 1)

	specs := source.DistrictMetricSpecs()
	specs = append(specs, source.IndustryMetricSpecs()...)

	seen := make(map[string]bool, len(specs))
	warmed := 0
	for _, spec := range specs {
		key := spec.SnapshotKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		if err := limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "cache: rate limiter")
		}

		rows, err := cached.FetchMetricTable(ctx, spec)
		if err != nil {
			return eris.Wrapf(err, "cache: warm %s", key)
		}
		zap.L().Info("cache: warmed table",
			zap.String("table", key),
			zap.Int("rows", len(rows)),
		)
		warmed++
	}

	fmt.Printf("warmed %d table(s)\n", warmed)
	return nil
}
