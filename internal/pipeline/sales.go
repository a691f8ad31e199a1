package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/model"
)

// SalesColumn names the pivoted per-year sales metric.
func SalesColumn(year int) string {
	return fmt.Sprintf("sales_%d", year)
}

type storeKey struct {
	zoneID      string
	serviceCode string
	period      model.Period
}

// enrichSales computes average monthly sales per store for each
// configured year and pivots the result into one metric column per year.
//
// Sales rows join store counts on (zone, service code, year, quarter);
// rows with a zero or missing store count are rejected rather than letting
// a divide-by-zero propagate. Quarterly per-store averages are divided by
// three: the source data is quarterly and downstream weights were tuned
// against this implied-monthly convention.
//
// Every registered entity ends up with a value for every year; years with
// no data are zero-filled and marked missing so the final eligibility
// filter can still see them.
func (p *Pipeline) enrichSales(ctx context.Context, reg *registry, scope model.Scope) error {
	zones, err := p.src.FetchZones(ctx, scope)
	if err != nil {
		return eris.Wrap(err, "pipeline: enrich sales")
	}
	zoneByID := make(map[string]model.Zone, len(zones))
	zoneIDs := make([]string, 0, len(zones))
	for _, z := range zones {
		zoneByID[z.ID] = z
		zoneIDs = append(zoneIDs, z.ID)
	}

	// District mode narrows sales to the requested category; industry
	// mode fetches all categories and keys by service code.
	serviceCode := ""
	if scope.Kind == model.ScopeDistrict {
		serviceCode = scope.ServiceCode
	}

	for _, year := range p.cfg.SalesYears {
		sales, err := p.src.FetchSales(ctx, year, zoneIDs, serviceCode)
		if err != nil {
			return eris.Wrapf(err, "pipeline: fetch sales %d", year)
		}
		stores, err := p.src.FetchStoreCounts(ctx, year, zoneIDs, serviceCode)
		if err != nil {
			return eris.Wrapf(err, "pipeline: fetch store counts %d", year)
		}

		counts := make(map[storeKey]float64, len(stores))
		for _, sc := range stores {
			counts[storeKey{sc.ZoneID, sc.ServiceCode, sc.Period}] = sc.Count
		}

		var (
			rejected int
			sums     = make(map[string]float64)
			n        = make(map[string]int)
		)
		for _, sr := range sales {
			count, ok := counts[storeKey{sr.ZoneID, sr.ServiceCode, sr.Period}]
			if !ok || count <= 0 {
				rejected++
				continue
			}
			key, ok := salesEntityKey(sr, zoneByID, scope)
			if !ok {
				continue
			}
			// Restrict to the established candidate set.
			if _, known := reg.byKey[key]; !known {
				continue
			}
			sums[key] += sr.Amount / count
			n[key]++
		}

		if rejected > 0 {
			zap.L().Warn("pipeline: rejected sales rows without store count",
				zap.Int("year", year),
				zap.Int("rejected", rejected),
			)
		}

		col := SalesColumn(year)
		for _, e := range reg.entities() {
			if cnt, ok := n[e.Key]; ok {
				avg := sums[e.Key] / float64(cnt)
				e.SetMetric(col, round2(avg/3))
			} else {
				e.MarkMissing(col)
			}
		}
	}

	return nil
}

// salesEntityKey maps a joined sales row to the entity it belongs to:
// the zone's district in district mode, the service code in industry mode.
func salesEntityKey(sr model.SalesRow, zones map[string]model.Zone, scope model.Scope) (string, bool) {
	if scope.Kind == model.ScopeIndustry {
		return sr.ServiceCode, sr.ServiceCode != ""
	}
	z, ok := zones[sr.ZoneID]
	if !ok {
		return "", false
	}
	return z.RegionCode, true
}
