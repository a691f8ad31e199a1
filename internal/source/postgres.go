package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/config"
	"github.com/upjong-lab/district-cli/internal/db"
	"github.com/upjong-lab/district-cli/internal/model"
	"github.com/upjong-lab/district-cli/internal/resilience"
)

// PostgresSource reads statistics tables through a pgx pool. Every query
// runs under a bounded timeout; source errors are never retried here, the
// caller aborts the whole run.
type PostgresSource struct {
	pool    db.Pool
	timeout time.Duration
	closeFn func()
}

// NewPostgres connects a PostgresSource using the store config.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresSource, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "source: parse database url")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "source: create pool")
	}
	// Pool creation is lazy; the first ping races database startup, so
	// only the connect is retried. Queries later on never are.
	err = resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "source: ping")
	}

	return &PostgresSource{pool: pool, timeout: cfg.QueryTimeout(), closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool, timeout time.Duration) *PostgresSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresSource{pool: pool, timeout: timeout}
}

// Pool exposes the underlying pool for services that run their own
// queries against the same database.
func (s *PostgresSource) Pool() db.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Ping verifies connectivity.
func (s *PostgresSource) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return eris.Wrap(s.pool.Ping(ctx), "source: ping")
}

func (s *PostgresSource) FetchMetricTable(ctx context.Context, spec MetricSpec) ([]model.MetricRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT %s, %s, region_code, year, quarter, %s::text FROM %s`,
		spec.KeyColumn, spec.NameColumn, spec.ValueColumn, spec.Table,
	)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "source: query %s", spec.Table)
	}
	defer rows.Close()

	var out []model.MetricRow
	for rows.Next() {
		var r model.MetricRow
		var value *string
		if err := rows.Scan(&r.EntityKey, &r.EntityName, &r.RegionCode, &r.Period.Year, &r.Period.Quarter, &value); err != nil {
			return nil, eris.Wrapf(err, "source: scan %s", spec.Table)
		}
		if value != nil {
			r.Value = *value
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "source: iterate %s", spec.Table)
	}

	zap.L().Debug("source: fetched metric table",
		zap.String("table", spec.Table),
		zap.String("metric", spec.Metric),
		zap.Int("rows", len(out)),
	)
	return out, nil
}

func (s *PostgresSource) FetchZones(ctx context.Context, scope model.Scope) ([]model.Zone, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		query string
		arg   string
	)
	switch scope.Kind {
	case model.ScopeIndustry:
		query = `SELECT zone_id, zone_name, region_code, region_name FROM zone_table WHERE region_code = $1`
		arg = scope.RegionCode
	default:
		query = `SELECT zone_id, zone_name, region_code, region_name FROM zone_table WHERE region_code LIKE $1 || '%'`
		arg = scope.GuCode
	}

	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "source: query zone_table")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.RegionCode, &z.RegionName); err != nil {
			return nil, eris.Wrap(err, "source: scan zone")
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate zones")
	}
	if len(zones) == 0 {
		return nil, eris.Wrap(&ScopeNotFoundError{Scope: scope, Table: "zone_table"}, "source: fetch zones")
	}
	return zones, nil
}

func (s *PostgresSource) FetchSales(ctx context.Context, year int, zoneIDs []string, serviceCode string) ([]model.SalesRow, error) {
	if len(zoneIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Sales tables are partitioned by year in the source schema.
	query := fmt.Sprintf(
		`SELECT zone_id, service_code, quarter, monthly_sales FROM sales_summary_%d WHERE zone_id = ANY($1)`, year)
	args := []any{zoneIDs}
	if serviceCode != "" {
		query += ` AND service_code = $2`
		args = append(args, serviceCode)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "source: query sales_summary_%d", year)
	}
	defer rows.Close()

	var out []model.SalesRow
	for rows.Next() {
		r := model.SalesRow{Period: model.Period{Year: year}}
		if err := rows.Scan(&r.ZoneID, &r.ServiceCode, &r.Period.Quarter, &r.Amount); err != nil {
			return nil, eris.Wrapf(err, "source: scan sales_summary_%d", year)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "source: iterate sales_summary_%d", year)
}

func (s *PostgresSource) FetchStoreCounts(ctx context.Context, year int, zoneIDs []string, serviceCode string) ([]model.StoreCountRow, error) {
	if len(zoneIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT zone_id, service_code, quarter, count FROM zone_store_count_%d WHERE zone_id = ANY($1)`, year)
	args := []any{zoneIDs}
	if serviceCode != "" {
		query += ` AND service_code = $2`
		args = append(args, serviceCode)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "source: query zone_store_count_%d", year)
	}
	defer rows.Close()

	var out []model.StoreCountRow
	for rows.Next() {
		r := model.StoreCountRow{Period: model.Period{Year: year}}
		if err := rows.Scan(&r.ZoneID, &r.ServiceCode, &r.Period.Quarter, &r.Count); err != nil {
			return nil, eris.Wrapf(err, "source: scan zone_store_count_%d", year)
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "source: iterate zone_store_count_%d", year)
}

// LookupRegion resolves a district name within a borough to its region
// code, for call sites that only know the display name.
func (s *PostgresSource) LookupRegion(ctx context.Context, guCode, regionName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT region_code FROM floating_population_stats
		 WHERE region_code LIKE $1 || '%' AND region_name = $2`,
		guCode, regionName,
	)
	if err != nil {
		return "", eris.Wrapf(err, "source: lookup region %s", regionName)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return "", eris.Wrapf(err, "source: scan region code for %s", regionName)
		}
		codes = append(codes, strings.TrimSpace(code))
	}
	if err := rows.Err(); err != nil {
		return "", eris.Wrapf(err, "source: lookup region %s", regionName)
	}

	switch len(codes) {
	case 0:
		scope := model.Scope{Kind: model.ScopeIndustry, RegionName: regionName, RegionCode: guCode + "?"}
		return "", eris.Wrap(&ScopeNotFoundError{Scope: scope, Table: "floating_population_stats"}, "source: lookup region")
	case 1:
		return codes[0], nil
	default:
		// District names repeat across boroughs (신사동 exists in both
		// 강남구 and 은평구), so a bare name can be resolved only when the
		// borough prefix pins it down.
		return "", eris.Errorf("source: region name %q matches %d districts (%s); pass a borough prefix to disambiguate",
			regionName, len(codes), strings.Join(codes, ", "))
	}
}
