// Package source provides read access to the commercial-district
// statistics tables. The pipeline depends only on the Source interface;
// the Postgres implementation and the snapshot-cached decorator both
// satisfy it.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/upjong-lab/district-cli/internal/model"
)

// MetricSpec describes where one metric lives in the source schema.
type MetricSpec struct {
	// Metric is the logical name used in weight configs and score columns.
	Metric string
	// Table is the SQL table holding the metric.
	Table string
	// ValueColumn is the column aggregated into the metric.
	ValueColumn string
	// KeyColumn identifies the entity: region_code in district mode,
	// category_small in industry mode.
	KeyColumn string
	// NameColumn is the entity display name column.
	NameColumn string
}

// DistrictMetricSpecs returns the metric tables scored in district mode.
func DistrictMetricSpecs() []MetricSpec {
	return []MetricSpec{
		{Metric: "floating_population", Table: "floating_population_stats", ValueColumn: "floating_population", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "rent_first_floor", Table: "rental_price_stats", ValueColumn: "rent_first_floor", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "survival_rate_1yr", Table: "startup_survival_rate", ValueColumn: "survival_rate_1yr", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "survival_rate_3yr", Table: "startup_survival_rate", ValueColumn: "survival_rate_3yr", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "survival_rate_5yr", Table: "startup_survival_rate", ValueColumn: "survival_rate_5yr", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "num_open", Table: "openclose_stats", ValueColumn: "num_open", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "num_close", Table: "openclose_stats", ValueColumn: "num_close", KeyColumn: "region_code", NameColumn: "region_name"},
		{Metric: "store_total", Table: "store_count_stats", ValueColumn: "store_total", KeyColumn: "region_code", NameColumn: "region_name"},
	}
}

// IndustryMetricSpecs returns the metric tables scored in industry mode.
// Only category-granular tables qualify; district-level metrics (rent,
// population) have no per-category breakdown in the source.
func IndustryMetricSpecs() []MetricSpec {
	return []MetricSpec{
		{Metric: "store_total", Table: "subcategory_store_stats", ValueColumn: "store_total", KeyColumn: "service_code", NameColumn: "category_small"},
		{Metric: "num_open", Table: "subcategory_store_stats", ValueColumn: "num_open", KeyColumn: "service_code", NameColumn: "category_small"},
		{Metric: "num_close", Table: "subcategory_store_stats", ValueColumn: "num_close", KeyColumn: "service_code", NameColumn: "category_small"},
		{Metric: "survival_rate_1yr", Table: "subcategory_survival_stats", ValueColumn: "survival_rate_1yr", KeyColumn: "service_code", NameColumn: "category_small"},
		{Metric: "survival_rate_3yr", Table: "subcategory_survival_stats", ValueColumn: "survival_rate_3yr", KeyColumn: "service_code", NameColumn: "category_small"},
		{Metric: "survival_rate_5yr", Table: "subcategory_survival_stats", ValueColumn: "survival_rate_5yr", KeyColumn: "service_code", NameColumn: "category_small"},
	}
}

// SnapshotKey is the logical cache key for a spec's full-table fetch.
func (s MetricSpec) SnapshotKey() string {
	return s.Table + ":" + s.ValueColumn
}

// Source is the tabular query interface the pipeline consumes.
type Source interface {
	// FetchMetricTable returns every row of a metric table, unscoped.
	// The recency window is derived from this full table so that all
	// entities are compared over an identical set of periods.
	FetchMetricTable(ctx context.Context, spec MetricSpec) ([]model.MetricRow, error)

	// FetchZones returns the commercial zones inside the scope's
	// districts, with their district mapping.
	FetchZones(ctx context.Context, scope model.Scope) ([]model.Zone, error)

	// FetchSales returns sales_summary rows for one year restricted to
	// the given zones. serviceCode narrows to one category; empty means
	// all categories.
	FetchSales(ctx context.Context, year int, zoneIDs []string, serviceCode string) ([]model.SalesRow, error)

	// FetchStoreCounts returns zone store counts for one year restricted
	// to the given zones, optionally narrowed to one category.
	FetchStoreCounts(ctx context.Context, year int, zoneIDs []string, serviceCode string) ([]model.StoreCountRow, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}

// MatchesScope reports whether a metric row belongs to the scope's
// candidate set: prefix match on the hierarchical region code in district
// mode, exact district match in industry mode.
func MatchesScope(r model.MetricRow, scope model.Scope) bool {
	switch scope.Kind {
	case model.ScopeDistrict:
		return scope.GuCode != "" && strings.HasPrefix(r.RegionCode, scope.GuCode)
	case model.ScopeIndustry:
		return scope.RegionCode != "" && r.RegionCode == scope.RegionCode
	default:
		return false
	}
}

// ScopeNotFoundError reports that a required table had no rows for the
// requested scope. The run fails fast rather than scoring an empty set.
type ScopeNotFoundError struct {
	Scope model.Scope
	Table string
}

func (e *ScopeNotFoundError) Error() string {
	return fmt.Sprintf("source: no data for scope %s in table %s", e.Scope, e.Table)
}

// IsScopeNotFound reports whether err is (or wraps) a ScopeNotFoundError.
func IsScopeNotFound(err error) bool {
	var snf *ScopeNotFoundError
	return eris.As(err, &snf)
}
