package stats

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockService(t *testing.T, years []int) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, 5*time.Second, years), mock
}

func expectDistrictQueries(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`SELECT year, num_open, num_close FROM openclose_stats`).
		WithArgs("역삼동", "1168010", 2022, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"year", "num_open", "num_close"}).
			AddRow(2023, 120, 80).
			AddRow(2024, 140, 70))

	r1, r3, r5 := 88.5, 61.2, 44.9
	mock.ExpectQuery(`SELECT AVG\(survival_rate_1yr\), AVG\(survival_rate_3yr\), AVG\(survival_rate_5yr\)`).
		WithArgs("역삼동", "1168010", 2022, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"r1", "r3", "r5"}).AddRow(&r1, &r3, &r5))

	first, other := 52.3, 31.8
	mock.ExpectQuery(`SELECT AVG\(rent_first_floor\), AVG\(rent_other_floors\)`).
		WithArgs("역삼동", "1168010", 2022, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"first", "other"}).AddRow(&first, &other))

	mock.ExpectQuery(`SELECT year, store_total, store_franchise, store_nonfranchise FROM store_count_stats`).
		WithArgs("역삼동", "1168010", 2022, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"year", "total", "franchise", "nonfranchise"}).
			AddRow(2024, 900, 200, 700))

	fl, res, wk := 15000.4, 8000.6, 30000.1
	mock.ExpectQuery(`SELECT AVG\(floating_population\), AVG\(residential_population\), AVG\(working_population\)`).
		WithArgs("역삼동", "1168010", 2022, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"fl", "res", "wk"}).AddRow(&fl, &res, &wk))
}

func TestDistrictSummary(t *testing.T) {
	svc, mock := newMockService(t, []int{2022, 2023, 2024})

	expectDistrictQueries(mock)
	// No commercial zones registered for the district.
	mock.ExpectQuery(`SELECT zone_id, zone_name FROM zone_table`).
		WithArgs("역삼동").
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "zone_name"}))

	sum, err := svc.DistrictSummary(context.Background(), "역삼동", "1168010")
	require.NoError(t, err)

	assert.Equal(t, "역삼동", sum.RegionName)
	assert.Equal(t, []int{2022, 2023, 2024}, sum.Years)

	require.Len(t, sum.OpenClose, 2)
	assert.Equal(t, YearOpenClose{Year: 2023, NumOpen: 120, NumClose: 80}, sum.OpenClose[0])

	assert.InDelta(t, 88.5, sum.Survival.OneYear, 1e-9)
	assert.InDelta(t, 61.2, sum.Survival.ThreeYear, 1e-9)
	assert.InDelta(t, 52.3, sum.Rent.FirstFloor, 1e-9)
	assert.InDelta(t, 15000.4, sum.Population.Floating, 1e-9)

	require.Len(t, sum.Stores, 1)
	assert.Equal(t, 900, sum.Stores[0].Total)

	assert.Empty(t, sum.Zones)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistrictSummaryNullAverages(t *testing.T) {
	svc, mock := newMockService(t, []int{2024})

	mock.ExpectQuery(`FROM openclose_stats`).
		WithArgs("외진동", "9999999", 2024, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"year", "num_open", "num_close"}))
	mock.ExpectQuery(`AVG\(survival_rate_1yr\)`).
		WithArgs("외진동", "9999999", 2024, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"r1", "r3", "r5"}).AddRow(nil, nil, nil))
	mock.ExpectQuery(`AVG\(rent_first_floor\)`).
		WithArgs("외진동", "9999999", 2024, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"first", "other"}).AddRow(nil, nil))
	mock.ExpectQuery(`FROM store_count_stats`).
		WithArgs("외진동", "9999999", 2024, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"year", "total", "franchise", "nonfranchise"}))
	mock.ExpectQuery(`AVG\(floating_population\)`).
		WithArgs("외진동", "9999999", 2024, 2024).
		WillReturnRows(pgxmock.NewRows([]string{"fl", "res", "wk"}).AddRow(nil, nil, nil))
	mock.ExpectQuery(`FROM zone_table`).
		WithArgs("외진동").
		WillReturnRows(pgxmock.NewRows([]string{"zone_id", "zone_name"}))

	sum, err := svc.DistrictSummary(context.Background(), "외진동", "9999999")
	require.NoError(t, err)

	// NULL aggregates collapse to zero instead of failing the summary.
	assert.Zero(t, sum.Survival.OneYear)
	assert.Zero(t, sum.Rent.FirstFloor)
	assert.Zero(t, sum.Population.Working)
	assert.Empty(t, sum.OpenClose)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneSalesPerStoreScaling(t *testing.T) {
	svc, mock := newMockService(t, []int{2024})

	cnt := 10.0
	mock.ExpectQuery(`SELECT AVG\(count\) FROM zone_store_count_2024`).
		WithArgs("z1").
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(&cnt))

	wd, we, ms, mc := 5000.0, 2000.0, 7000.0, 350.0
	mock.ExpectQuery(`FROM sales_summary_2024`).
		WithArgs("z1").
		WillReturnRows(pgxmock.NewRows([]string{"wd", "we", "ms", "mc"}).AddRow(&wd, &we, &ms, &mc))

	mock.ExpectQuery(`SELECT day_of_week, SUM\(sales_amount\) FROM sales_by_day_2024`).
		WithArgs("z1").
		WillReturnRows(pgxmock.NewRows([]string{"day_of_week", "sum"}).
			AddRow("월요일", 1000.0).
			AddRow("토요일", 3000.0))

	mock.ExpectQuery(`SELECT time_range, SUM\(sales_amount\) FROM sales_by_hour_2024`).
		WithArgs("z1").
		WillReturnRows(pgxmock.NewRows([]string{"time_range", "sum"}).
			AddRow("17~21", 4000.0))

	mock.ExpectQuery(`FROM sales_by_gender_age_2024`).
		WithArgs("z1").
		WillReturnRows(pgxmock.NewRows([]string{"gender", "age_group", "sum"}).
			AddRow("남성", "", 6000.0).
			AddRow("여성", "", 4000.0).
			AddRow("", "30대", 5000.0))

	zs, err := svc.oneZone(context.Background(), "z1", "역삼역")
	require.NoError(t, err)

	assert.InDelta(t, 500, zs.WeekdayPerStore, 1e-9)
	assert.InDelta(t, 200, zs.WeekendPerStore, 1e-9)
	assert.InDelta(t, 20, zs.AvgOrderValue, 1e-9)

	assert.Equal(t, []string{"월요일", "토요일"}, zs.ByDay.Labels)
	assert.InDelta(t, 100, zs.ByDay.Values[0], 1e-9)
	assert.InDelta(t, 300, zs.ByDay.Values[1], 1e-9)

	assert.Equal(t, []string{"남성", "여성"}, zs.ByGender.Labels)
	assert.InDelta(t, 6000, zs.ByGender.Values[0], 1e-9)
	assert.Equal(t, []string{"30대"}, zs.ByAge.Labels)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestYearBounds(t *testing.T) {
	lo, hi := yearBounds([]int{2023, 2022, 2024})
	assert.Equal(t, 2022, lo)
	assert.Equal(t, 2024, hi)

	lo, hi = yearBounds(nil)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}

func TestRound1(t *testing.T) {
	assert.InDelta(t, 11.3, round1(11.34), 1e-9)
	assert.InDelta(t, 11.4, round1(11.36), 1e-9)
	assert.InDelta(t, -2.5, round1(-2.46), 1e-9)
}
