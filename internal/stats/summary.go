// Package stats aggregates the descriptive district statistics that back
// a consulting report: open/close trends, survival rates, rent, store
// counts, population, and per-zone sales breakdowns.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/db"
)

// YearOpenClose is one year of business openings and closures.
type YearOpenClose struct {
	Year     int `json:"year"`
	NumOpen  int `json:"num_open"`
	NumClose int `json:"num_close"`
}

// SurvivalRates are period-averaged startup survival percentages.
type SurvivalRates struct {
	OneYear   float64 `json:"survival_rate_1yr"`
	ThreeYear float64 `json:"survival_rate_3yr"`
	FiveYear  float64 `json:"survival_rate_5yr"`
}

// RentAverages are period-averaged rents per square meter.
type RentAverages struct {
	FirstFloor  float64 `json:"rent_first_floor"`
	OtherFloors float64 `json:"rent_other_floors"`
}

// YearStoreCount is one year of store counts by franchise status.
type YearStoreCount struct {
	Year         int `json:"year"`
	Total        int `json:"store_total"`
	Franchise    int `json:"store_franchise"`
	NonFranchise int `json:"store_nonfranchise"`
}

// PopulationAverages are period-averaged populations per hectare.
type PopulationAverages struct {
	Floating    float64 `json:"floating"`
	Residential float64 `json:"residential"`
	Working     float64 `json:"working"`
}

// Breakdown is a labeled series, e.g. sales by day of week.
type Breakdown struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// ZoneSales summarizes sales behavior within one commercial zone across
// the configured sales years, scaled per store where store counts exist.
type ZoneSales struct {
	ZoneID   string    `json:"zone_id"`
	ZoneName string    `json:"zone_name"`
	ByDay    Breakdown `json:"sales_by_day"`
	ByHour   Breakdown `json:"sales_by_hour"`
	ByGender Breakdown `json:"sales_by_gender"`
	ByAge    Breakdown `json:"sales_by_age_group"`
	// WeekdayPerStore and WeekendPerStore compare average weekday and
	// weekend sales per store.
	WeekdayPerStore float64 `json:"weekday_per_store"`
	WeekendPerStore float64 `json:"weekend_per_store"`
	// AvgOrderValue is total sales over total transaction count.
	AvgOrderValue float64 `json:"avg_order_value"`
}

// Summary is the full statistics bundle for one district.
type Summary struct {
	RegionName string             `json:"region_name"`
	RegionCode string             `json:"region_code"`
	Years      []int              `json:"years"`
	OpenClose  []YearOpenClose    `json:"open_close"`
	Survival   SurvivalRates      `json:"survival"`
	Rent       RentAverages       `json:"rent"`
	Stores     []YearStoreCount   `json:"stores"`
	Population PopulationAverages `json:"population"`
	Zones      []ZoneSales        `json:"zones"`
}

// Service computes district summaries against the statistics database.
type Service struct {
	pool       db.Pool
	timeout    time.Duration
	salesYears []int
}

// New builds a stats Service. salesYears bounds which year-partitioned
// sales tables are consulted.
func New(pool db.Pool, timeout time.Duration, salesYears []int) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{pool: pool, timeout: timeout, salesYears: salesYears}
}

// DistrictSummary aggregates every report statistic for one district.
// Missing slices produce zero values or empty series; connectivity errors
// abort.
func (s *Service) DistrictSummary(ctx context.Context, regionName, regionCode string) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sum := &Summary{RegionName: regionName, RegionCode: regionCode, Years: s.salesYears}

	yearLo, yearHi := yearBounds(s.salesYears)

	var err error
	if sum.OpenClose, err = s.openClose(ctx, regionName, regionCode, yearLo, yearHi); err != nil {
		return nil, err
	}
	if sum.Survival, err = s.survival(ctx, regionName, regionCode, yearLo, yearHi); err != nil {
		return nil, err
	}
	if sum.Rent, err = s.rent(ctx, regionName, regionCode, yearLo, yearHi); err != nil {
		return nil, err
	}
	if sum.Stores, err = s.storeCounts(ctx, regionName, regionCode, yearLo, yearHi); err != nil {
		return nil, err
	}
	if sum.Population, err = s.population(ctx, regionName, regionCode, yearLo, yearHi); err != nil {
		return nil, err
	}
	if sum.Zones, err = s.zoneSales(ctx, regionName); err != nil {
		return nil, err
	}

	zap.L().Info("stats: district summary complete",
		zap.String("region", regionName),
		zap.Int("zones", len(sum.Zones)),
	)
	return sum, nil
}

func yearBounds(years []int) (int, int) {
	if len(years) == 0 {
		return 0, 0
	}
	lo, hi := years[0], years[0]
	for _, y := range years[1:] {
		if y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	}
	return lo, hi
}

func (s *Service) openClose(ctx context.Context, region, code string, lo, hi int) ([]YearOpenClose, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year, num_open, num_close FROM openclose_stats
		 WHERE region_name = $1 AND region_code = $2 AND year BETWEEN $3 AND $4
		 ORDER BY year`,
		region, code, lo, hi,
	)
	if err != nil {
		return nil, eris.Wrap(err, "stats: query openclose_stats")
	}
	defer rows.Close()

	var out []YearOpenClose
	for rows.Next() {
		var r YearOpenClose
		if err := rows.Scan(&r.Year, &r.NumOpen, &r.NumClose); err != nil {
			return nil, eris.Wrap(err, "stats: scan openclose_stats")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "stats: iterate openclose_stats")
}

func (s *Service) survival(ctx context.Context, region, code string, lo, hi int) (SurvivalRates, error) {
	var r1, r3, r5 *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(survival_rate_1yr), AVG(survival_rate_3yr), AVG(survival_rate_5yr)
		 FROM startup_survival_rate
		 WHERE region_name = $1 AND region_code = $2 AND year BETWEEN $3 AND $4`,
		region, code, lo, hi,
	).Scan(&r1, &r3, &r5)
	if err != nil {
		return SurvivalRates{}, eris.Wrap(err, "stats: query startup_survival_rate")
	}
	return SurvivalRates{
		OneYear:   round1(deref(r1)),
		ThreeYear: round1(deref(r3)),
		FiveYear:  round1(deref(r5)),
	}, nil
}

func (s *Service) rent(ctx context.Context, region, code string, lo, hi int) (RentAverages, error) {
	var first, other *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(rent_first_floor), AVG(rent_other_floors)
		 FROM rental_price_stats
		 WHERE region_name = $1 AND region_code = $2 AND year BETWEEN $3 AND $4`,
		region, code, lo, hi,
	).Scan(&first, &other)
	if err != nil {
		return RentAverages{}, eris.Wrap(err, "stats: query rental_price_stats")
	}
	return RentAverages{FirstFloor: round1(deref(first)), OtherFloors: round1(deref(other))}, nil
}

func (s *Service) storeCounts(ctx context.Context, region, code string, lo, hi int) ([]YearStoreCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year, store_total, store_franchise, store_nonfranchise FROM store_count_stats
		 WHERE region_name = $1 AND region_code = $2 AND year BETWEEN $3 AND $4
		 ORDER BY year`,
		region, code, lo, hi,
	)
	if err != nil {
		return nil, eris.Wrap(err, "stats: query store_count_stats")
	}
	defer rows.Close()

	var out []YearStoreCount
	for rows.Next() {
		var r YearStoreCount
		if err := rows.Scan(&r.Year, &r.Total, &r.Franchise, &r.NonFranchise); err != nil {
			return nil, eris.Wrap(err, "stats: scan store_count_stats")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "stats: iterate store_count_stats")
}

func (s *Service) population(ctx context.Context, region, code string, lo, hi int) (PopulationAverages, error) {
	var fl, res, wk *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(floating_population), AVG(residential_population), AVG(working_population)
		 FROM floating_population_stats
		 WHERE region_name = $1 AND region_code = $2 AND year BETWEEN $3 AND $4`,
		region, code, lo, hi,
	).Scan(&fl, &res, &wk)
	if err != nil {
		return PopulationAverages{}, eris.Wrap(err, "stats: query floating_population_stats")
	}
	return PopulationAverages{
		Floating:    round1(deref(fl)),
		Residential: round1(deref(res)),
		Working:     round1(deref(wk)),
	}, nil
}

func (s *Service) zoneSales(ctx context.Context, region string) ([]ZoneSales, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zone_id, zone_name FROM zone_table WHERE region_name = $1`,
		region,
	)
	if err != nil {
		return nil, eris.Wrap(err, "stats: query zone_table")
	}
	defer rows.Close()

	type zone struct{ id, name string }
	var zones []zone
	for rows.Next() {
		var z zone
		if err := rows.Scan(&z.id, &z.name); err != nil {
			return nil, eris.Wrap(err, "stats: scan zone")
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "stats: iterate zones")
	}

	var out []ZoneSales
	for _, z := range zones {
		zs, err := s.oneZone(ctx, z.id, z.name)
		if err != nil {
			return nil, err
		}
		out = append(out, *zs)
	}
	return out, nil
}

func (s *Service) oneZone(ctx context.Context, zoneID, zoneName string) (*ZoneSales, error) {
	zs := &ZoneSales{ZoneID: zoneID, ZoneName: zoneName}

	var (
		storeCountSum   float64
		storeCountN     int
		weekdaySales    float64
		weekendSales    float64
		monthlySales    float64
		monthlyCount    float64
		dayTotals       = map[string]float64{}
		hourTotals      = map[string]float64{}
		genderTotals    = map[string]float64{}
		ageTotals       = map[string]float64{}
		dayOrder        []string
		hourOrder       []string
		genderOrder     []string
		ageOrder        []string
	)

	for _, year := range s.salesYears {
		var count *float64
		err := s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT AVG(count) FROM zone_store_count_%d WHERE zone_id = $1`, year),
			zoneID,
		).Scan(&count)
		if err != nil {
			return nil, eris.Wrapf(err, "stats: query zone_store_count_%d", year)
		}
		if count != nil {
			storeCountSum += *count
			storeCountN++
		}

		var wd, we, ms, mc *float64
		err = s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT SUM(weekday_sales), SUM(weekend_sales), SUM(monthly_sales), SUM(monthly_count)
				 FROM sales_summary_%d WHERE zone_id = $1`, year),
			zoneID,
		).Scan(&wd, &we, &ms, &mc)
		if err != nil {
			return nil, eris.Wrapf(err, "stats: query sales_summary_%d", year)
		}
		weekdaySales += deref(wd)
		weekendSales += deref(we)
		monthlySales += deref(ms)
		monthlyCount += deref(mc)

		if err := s.accumulateBreakdown(ctx,
			fmt.Sprintf(`SELECT day_of_week, SUM(sales_amount) FROM sales_by_day_%d WHERE zone_id = $1 GROUP BY day_of_week`, year),
			zoneID, dayTotals, &dayOrder); err != nil {
			return nil, err
		}
		if err := s.accumulateBreakdown(ctx,
			fmt.Sprintf(`SELECT time_range, SUM(sales_amount) FROM sales_by_hour_%d WHERE zone_id = $1 GROUP BY time_range`, year),
			zoneID, hourTotals, &hourOrder); err != nil {
			return nil, err
		}
		if err := s.accumulateGenderAge(ctx, year, zoneID,
			genderTotals, &genderOrder, ageTotals, &ageOrder); err != nil {
			return nil, err
		}
	}

	storeCount := 0.0
	if storeCountN > 0 {
		storeCount = storeCountSum / float64(storeCountN)
	}
	if storeCount > 0 {
		zs.WeekdayPerStore = round1(weekdaySales / storeCount)
		zs.WeekendPerStore = round1(weekendSales / storeCount)
		scale(dayTotals, storeCount)
		scale(hourTotals, storeCount)
	}
	if monthlyCount > 0 {
		zs.AvgOrderValue = round1(monthlySales / monthlyCount)
	}

	zs.ByDay = toBreakdown(dayOrder, dayTotals)
	zs.ByHour = toBreakdown(hourOrder, hourTotals)
	zs.ByGender = toBreakdown(genderOrder, genderTotals)
	zs.ByAge = toBreakdown(ageOrder, ageTotals)
	return zs, nil
}

func (s *Service) accumulateBreakdown(ctx context.Context, query, zoneID string, totals map[string]float64, order *[]string) error {
	rows, err := s.pool.Query(ctx, query, zoneID)
	if err != nil {
		return eris.Wrap(err, "stats: query breakdown")
	}
	defer rows.Close()

	for rows.Next() {
		var label string
		var total float64
		if err := rows.Scan(&label, &total); err != nil {
			return eris.Wrap(err, "stats: scan breakdown")
		}
		if _, seen := totals[label]; !seen {
			*order = append(*order, label)
		}
		totals[label] += total
	}
	return eris.Wrap(rows.Err(), "stats: iterate breakdown")
}

// accumulateGenderAge splits gender_age rows the way the source encodes
// them: gender rows carry 남성/여성, everything else is an age band.
func (s *Service) accumulateGenderAge(ctx context.Context, year int, zoneID string,
	genders map[string]float64, genderOrder *[]string,
	ages map[string]float64, ageOrder *[]string,
) error {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT gender, age_group, SUM(sales_amount) FROM sales_by_gender_age_%d
			 WHERE zone_id = $1 GROUP BY gender, age_group`, year),
		zoneID,
	)
	if err != nil {
		return eris.Wrapf(err, "stats: query sales_by_gender_age_%d", year)
	}
	defer rows.Close()

	for rows.Next() {
		var gender, ageGroup string
		var total float64
		if err := rows.Scan(&gender, &ageGroup, &total); err != nil {
			return eris.Wrapf(err, "stats: scan sales_by_gender_age_%d", year)
		}
		if gender == "남성" || gender == "여성" {
			if _, seen := genders[gender]; !seen {
				*genderOrder = append(*genderOrder, gender)
			}
			genders[gender] += total
		} else {
			if _, seen := ages[ageGroup]; !seen {
				*ageOrder = append(*ageOrder, ageGroup)
			}
			ages[ageGroup] += total
		}
	}
	return eris.Wrapf(rows.Err(), "stats: iterate sales_by_gender_age_%d", year)
}

func toBreakdown(order []string, totals map[string]float64) Breakdown {
	b := Breakdown{Labels: order}
	for _, label := range order {
		b.Values = append(b.Values, round1(totals[label]))
	}
	return b
}

func scale(totals map[string]float64, divisor float64) {
	for k, v := range totals {
		totals[k] = v / divisor
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
