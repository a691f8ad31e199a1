package source

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upjong-lab/district-cli/internal/model"
)

func newMockSource(t *testing.T) (*PostgresSource, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock, 5*time.Second), mock
}

func TestFetchMetricTable(t *testing.T) {
	src, mock := newMockSource(t)

	spec := MetricSpec{
		Metric:      "floating_population",
		Table:       "floating_population_stats",
		ValueColumn: "floating_population",
		KeyColumn:   "region_code",
		NameColumn:  "region_name",
	}

	// FetchMetricTable scans the nullable value column into a *string, so
	// the mock must supply a *string for pgxmock's reflection-based Scan.
	value := "123456.7"
	mock.ExpectQuery(`SELECT .* FROM floating_population_stats`).
		WillReturnRows(pgxmock.NewRows([]string{"region_code", "region_name", "region_code", "year", "quarter", "floating_population"}).
			AddRow("1168010", "역삼동", "1168010", 2024, 4, &value).
			AddRow("1168020", "삼성동", "1168020", 2024, 4, nil))

	rows, err := src.FetchMetricTable(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "1168010", rows[0].EntityKey)
	assert.Equal(t, "역삼동", rows[0].EntityName)
	assert.Equal(t, model.Period{Year: 2024, Quarter: 4}, rows[0].Period)
	assert.Equal(t, "123456.7", rows[0].Value)

	// NULL values come through as empty strings and are dropped later by
	// numeric coercion, not here.
	assert.Equal(t, "", rows[1].Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchZonesDistrictPrefix(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`SELECT zone_id, zone_name, region_code, region_name FROM zone_table WHERE region_code LIKE`).
		WithArgs("11680").
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "zone_name", "region_code", "region_name"}).
			AddRow("z1", "역삼역", "1168010", "역삼동"))

	zones, err := src.FetchZones(context.Background(), model.Scope{Kind: model.ScopeDistrict, GuCode: "11680"})
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "z1", zones[0].ID)
	assert.Equal(t, "1168010", zones[0].RegionCode)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchZonesIndustryExactMatch(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`SELECT zone_id, zone_name, region_code, region_name FROM zone_table WHERE region_code = `).
		WithArgs("1168010").
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "zone_name", "region_code", "region_name"}).
			AddRow("z1", "역삼역", "1168010", "역삼동"))

	zones, err := src.FetchZones(context.Background(), model.Scope{Kind: model.ScopeIndustry, RegionCode: "1168010"})
	require.NoError(t, err)
	assert.Len(t, zones, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchZonesEmptyIsScopeNotFound(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`SELECT zone_id, zone_name, region_code, region_name FROM zone_table`).
		WithArgs("99999").
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "zone_name", "region_code", "region_name"}))

	_, err := src.FetchZones(context.Background(), model.Scope{Kind: model.ScopeDistrict, GuCode: "99999"})
	require.Error(t, err)
	assert.True(t, IsScopeNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchSales(t *testing.T) {
	src, mock := newMockSource(t)

	zoneIDs := []string{"z1", "z2"}
	mock.ExpectQuery(`SELECT zone_id, service_code, quarter, monthly_sales FROM sales_summary_2024`).
		WithArgs(zoneIDs, "CS100001").
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "service_code", "quarter", "monthly_sales"}).
			AddRow("z1", "CS100001", 4, 900.0).
			AddRow("z2", "CS100001", 4, 300.0))

	rows, err := src.FetchSales(context.Background(), 2024, zoneIDs, "CS100001")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.Period{Year: 2024, Quarter: 4}, rows[0].Period)
	assert.InDelta(t, 900, rows[0].Amount, 1e-9)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchSalesNoZones(t *testing.T) {
	src, mock := newMockSource(t)

	rows, err := src.FetchSales(context.Background(), 2024, nil, "")
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchStoreCounts(t *testing.T) {
	src, mock := newMockSource(t)

	zoneIDs := []string{"z1"}
	mock.ExpectQuery(`SELECT zone_id, service_code, quarter, count FROM zone_store_count_2023`).
		WithArgs(zoneIDs).
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "service_code", "quarter", "count"}).
			AddRow("z1", "CS100001", 4, 12.0))

	rows, err := src.FetchStoreCounts(context.Background(), 2023, zoneIDs, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 12, rows[0].Count, 1e-9)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupRegion(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`SELECT DISTINCT region_code FROM floating_population_stats`).
		WithArgs("11680", "역삼동").
		WillReturnRows(pgxmock.NewRows([]string{"region_code"}).AddRow("1168010 "))

	code, err := src.LookupRegion(context.Background(), "11680", "역삼동")
	require.NoError(t, err)
	assert.Equal(t, "1168010", code, "codes are trimmed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupRegionUnknownName(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`SELECT DISTINCT region_code FROM floating_population_stats`).
		WithArgs("11680", "없는동").
		WillReturnRows(pgxmock.NewRows([]string{"region_code"}))

	_, err := src.LookupRegion(context.Background(), "11680", "없는동")
	require.Error(t, err)
	assert.True(t, IsScopeNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupRegionAmbiguousName(t *testing.T) {
	src, mock := newMockSource(t)

	// 신사동 exists in both 강남구 and 은평구; an empty borough prefix
	// matches both and must not silently pick one.
	mock.ExpectQuery(`SELECT DISTINCT region_code FROM floating_population_stats`).
		WithArgs("", "신사동").
		WillReturnRows(pgxmock.NewRows([]string{"region_code"}).
			AddRow("1168051").
			AddRow("1138052"))

	_, err := src.LookupRegion(context.Background(), "", "신사동")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches 2 districts")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupRegionBoroughPrefixDisambiguates(t *testing.T) {
	src, mock := newMockSource(t)

	mock.ExpectQuery(`SELECT DISTINCT region_code FROM floating_population_stats`).
		WithArgs("11680", "신사동").
		WillReturnRows(pgxmock.NewRows([]string{"region_code"}).AddRow("1168051"))

	code, err := src.LookupRegion(context.Background(), "11680", "신사동")
	require.NoError(t, err)
	assert.Equal(t, "1168051", code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchesScope(t *testing.T) {
	tests := []struct {
		name  string
		row   model.MetricRow
		scope model.Scope
		want  bool
	}{
		{
			name:  "district prefix match",
			row:   model.MetricRow{RegionCode: "1168010"},
			scope: model.Scope{Kind: model.ScopeDistrict, GuCode: "11680"},
			want:  true,
		},
		{
			name:  "district prefix mismatch",
			row:   model.MetricRow{RegionCode: "1144010"},
			scope: model.Scope{Kind: model.ScopeDistrict, GuCode: "11680"},
			want:  false,
		},
		{
			name:  "district empty gu never matches",
			row:   model.MetricRow{RegionCode: "1168010"},
			scope: model.Scope{Kind: model.ScopeDistrict},
			want:  false,
		},
		{
			name:  "industry exact match",
			row:   model.MetricRow{RegionCode: "1168010"},
			scope: model.Scope{Kind: model.ScopeIndustry, RegionCode: "1168010"},
			want:  true,
		},
		{
			name:  "industry prefix is not enough",
			row:   model.MetricRow{RegionCode: "11680"},
			scope: model.Scope{Kind: model.ScopeIndustry, RegionCode: "1168010"},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesScope(tt.row, tt.scope))
		})
	}
}

func TestMetricSpecSnapshotKey(t *testing.T) {
	spec := MetricSpec{Table: "startup_survival_rate", ValueColumn: "survival_rate_3yr"}
	assert.Equal(t, "startup_survival_rate:survival_rate_3yr", spec.SnapshotKey())

	// Specs sharing a table must still cache independently.
	keys := map[string]bool{}
	for _, s := range DistrictMetricSpecs() {
		keys[s.SnapshotKey()] = true
	}
	assert.Len(t, keys, len(DistrictMetricSpecs()))
}
