// Package pipeline implements the weighted composite scoring and ranking
// of commercial districts and industries: metric aggregation over a fixed
// recency window, per-store sales enrichment, min-max normalization,
// signed weighted scoring, and top-K ranking with eligibility filters.
//
// The district and industry variants are one parameterized pipeline; the
// scope kind only selects the metric tables, the weight set, and how
// sales rows map to entities.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/config"
	"github.com/upjong-lab/district-cli/internal/model"
	"github.com/upjong-lab/district-cli/internal/source"
)

// Pipeline runs scoring against an injected Source. It holds no mutable
// state between runs; each Run builds a fresh candidate set.
type Pipeline struct {
	src      source.Source
	cfg      config.ScoringConfig
	override Weights
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWeights replaces the config's per-mode weights for every run.
// The replacement is still validated for column coverage.
func WithWeights(w Weights) Option {
	return func(p *Pipeline) { p.override = w }
}

// New builds a Pipeline over the given source.
func New(src source.Source, cfg config.ScoringConfig, opts ...Option) *Pipeline {
	p := &Pipeline{src: src, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ScoreColumns returns the full set of columns a run in the given mode
// produces: the aggregated metrics plus one sales column per year.
func (p *Pipeline) ScoreColumns(kind model.ScopeKind) []string {
	specs := p.metricSpecs(kind)
	seen := make(map[string]bool, len(specs))
	var cols []string
	for _, s := range specs {
		if !seen[s.Metric] {
			seen[s.Metric] = true
			cols = append(cols, s.Metric)
		}
	}
	for _, y := range p.cfg.SalesYears {
		cols = append(cols, SalesColumn(y))
	}
	return cols
}

func (p *Pipeline) metricSpecs(kind model.ScopeKind) []source.MetricSpec {
	if kind == model.ScopeIndustry {
		return source.IndustryMetricSpecs()
	}
	return source.DistrictMetricSpecs()
}

func (p *Pipeline) weights(kind model.ScopeKind) Weights {
	if p.override != nil {
		return p.override
	}
	if kind == model.ScopeIndustry {
		return Weights(p.cfg.IndustryWeights)
	}
	return Weights(p.cfg.DistrictWeights)
}

// Run executes one scoring run: aggregate, enrich with sales, normalize,
// score, rank. Any source error aborts the run with no partial
// result; scope mismatches surface as ScopeNotFoundError.
func (p *Pipeline) Run(ctx context.Context, scope model.Scope) (*model.RankedResult, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	columns := p.ScoreColumns(scope.Kind)
	weights := p.weights(scope.Kind)
	if err := weights.Validate(columns); err != nil {
		return nil, eris.Wrap(err, "pipeline: run")
	}

	log := zap.L().With(zap.String("scope", scope.String()))
	reg := newRegistry()

	for _, spec := range p.metricSpecs(scope.Kind) {
		if err := p.aggregateMetric(ctx, reg, spec, scope); err != nil {
			return nil, err
		}
	}
	log.Info("pipeline: aggregation complete", zap.Int("candidates", len(reg.byKey)))

	if err := p.enrichSales(ctx, reg, scope); err != nil {
		return nil, err
	}

	entities := reg.entities()
	normalize(entities, columns)
	applyScores(entities, weights, columns)

	rules := []ExcludePredicate{
		NoSalesRule(p.cfg.SalesYears),
	}
	if scope.Kind == model.ScopeDistrict {
		rules = append(rules, AggregateCodeRule(p.cfg.ExcludeCodeLength))
	}

	result := rank(scope, entities, rules, p.cfg.TopK)
	log.Info("pipeline: run complete",
		zap.Int("scored", len(entities)),
		zap.Int("published", len(result.All)),
		zap.Int("top_k", len(result.Top)),
	)
	return result, nil
}

func validateScope(scope model.Scope) error {
	switch scope.Kind {
	case model.ScopeDistrict:
		if scope.GuCode == "" {
			return eris.New("pipeline: district scope requires a gu code")
		}
	case model.ScopeIndustry:
		if scope.RegionCode == "" {
			return eris.New("pipeline: industry scope requires a region code")
		}
	default:
		return eris.Errorf("pipeline: unknown scope kind %q", scope.Kind)
	}
	return nil
}
