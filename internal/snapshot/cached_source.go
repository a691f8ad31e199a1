package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upjong-lab/district-cli/internal/model"
	"github.com/upjong-lab/district-cli/internal/source"
)

// CachedSource wraps a Source so that full metric-table fetches are
// served from the snapshot store. Concurrent first-use of the same table
// collapses into one upstream fetch via singleflight; sales, store-count
// and zone queries are scope-bounded and pass through uncached.
type CachedSource struct {
	src   source.Source
	store *Store
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedSource builds a CachedSource with the given snapshot TTL.
func NewCachedSource(src source.Source, store *Store, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, store: store, ttl: ttl}
}

func (c *CachedSource) FetchMetricTable(ctx context.Context, spec source.MetricSpec) ([]model.MetricRow, error) {
	key := spec.SnapshotKey()

	rows, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		zap.L().Debug("snapshot: hit", zap.String("table", key), zap.Int("rows", len(rows)))
		return rows, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		fetched, err := c.src.FetchMetricTable(ctx, spec)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, fetched, c.ttl); err != nil {
			return nil, err
		}
		zap.L().Info("snapshot: populated",
			zap.String("table", key),
			zap.Int("rows", len(fetched)),
		)
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.MetricRow), nil
}

func (c *CachedSource) FetchZones(ctx context.Context, scope model.Scope) ([]model.Zone, error) {
	return c.src.FetchZones(ctx, scope)
}

func (c *CachedSource) FetchSales(ctx context.Context, year int, zoneIDs []string, serviceCode string) ([]model.SalesRow, error) {
	return c.src.FetchSales(ctx, year, zoneIDs, serviceCode)
}

func (c *CachedSource) FetchStoreCounts(ctx context.Context, year int, zoneIDs []string, serviceCode string) ([]model.StoreCountRow, error) {
	return c.src.FetchStoreCounts(ctx, year, zoneIDs, serviceCode)
}

func (c *CachedSource) Ping(ctx context.Context) error {
	return c.src.Ping(ctx)
}
