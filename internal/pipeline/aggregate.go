package pipeline

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/model"
	"github.com/upjong-lab/district-cli/internal/source"
)

// registry accumulates the candidate entities of one scoring run.
type registry struct {
	byKey map[string]*model.Entity
	order []string
}

func newRegistry() *registry {
	return &registry{byKey: make(map[string]*model.Entity)}
}

func (r *registry) get(key, name string) *model.Entity {
	if e, ok := r.byKey[key]; ok {
		return e
	}
	e := model.NewEntity(key, name)
	r.byKey[key] = e
	r.order = append(r.order, key)
	return e
}

// entities returns the candidates in first-seen order.
func (r *registry) entities() []*model.Entity {
	out := make([]*model.Entity, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// aggregateMetric reduces one metric table to a time-averaged value per
// entity and records it on the registry.
//
// The recency window comes from the unfiltered table so every entity is
// averaged over the same periods. Rows whose value does not parse as a
// number are dropped, never counted as zero; an entity whose rows are all
// unparseable produces no value here and is zero-filled later by
// normalization.
func (p *Pipeline) aggregateMetric(ctx context.Context, reg *registry, spec source.MetricSpec, scope model.Scope) error {
	rows, err := p.src.FetchMetricTable(ctx, spec)
	if err != nil {
		return eris.Wrapf(err, "pipeline: aggregate %s", spec.Metric)
	}

	recent := recentWindow(rows, p.cfg.RecentPeriods)

	var (
		matched int
		dropped int
		sums    = make(map[string]float64)
		counts  = make(map[string]int)
		names   = make(map[string]string)
	)
	for _, r := range rows {
		if !source.MatchesScope(r, scope) {
			continue
		}
		matched++
		if !recent[r.Period] {
			continue
		}
		v, ok := coerceNumeric(r.Value)
		if !ok {
			dropped++
			continue
		}
		sums[r.EntityKey] += v
		counts[r.EntityKey]++
		names[r.EntityKey] = r.EntityName
	}

	if matched == 0 {
		return eris.Wrapf(&source.ScopeNotFoundError{Scope: scope, Table: spec.Table},
			"pipeline: aggregate %s", spec.Metric)
	}
	if dropped > 0 {
		zap.L().Warn("pipeline: dropped non-numeric rows",
			zap.String("metric", spec.Metric),
			zap.String("table", spec.Table),
			zap.Int("dropped", dropped),
		)
	}
	// The scope matched rows but none fell inside the recency window or
	// parsed as numbers. Entities are zero-filled later, so the run goes
	// on, but every candidate scoring 0 on this metric is worth flagging.
	if len(sums) == 0 {
		zap.L().Warn("pipeline: metric produced no usable values",
			zap.String("metric", spec.Metric),
			zap.String("table", spec.Table),
			zap.Int("matched", matched),
		)
	}

	for key, sum := range sums {
		e := reg.get(key, names[key])
		e.SetMetric(spec.Metric, round2(sum/float64(counts[key])))
	}
	return nil
}

// recentWindow returns a membership set of the n most recent distinct
// periods present in the full table.
func recentWindow(rows []model.MetricRow, n int) map[model.Period]bool {
	periods := make([]model.Period, 0, len(rows))
	for _, r := range rows {
		periods = append(periods, r.Period)
	}
	recent := model.RecentPeriods(periods, n)
	set := make(map[model.Period]bool, len(recent))
	for _, p := range recent {
		set[p] = true
	}
	return set
}

// coerceNumeric parses a source value, tolerating thousands separators
// and surrounding whitespace. Empty or malformed values report ok=false.
func coerceNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
