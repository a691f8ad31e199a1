package pipeline

import (
	"math"

	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/model"
)

// NormColumn names the normalized counterpart of a score column.
func NormColumn(metric string) string {
	return "norm_" + metric
}

// normalize min-max scales every score column into [0,1] across the
// current candidate set.
//
// Before fitting, ±Inf values are treated as missing and all missing
// values are filled with 0. An entity with genuinely absent data is
// therefore scored as if it had raw value 0, which can land anywhere in
// [0,1] depending on the observed range. The weights were tuned against
// that skew, so it is not corrected here.
//
// A column with no variance is degenerate and normalizes to exactly 0 for
// every entity, contributing nothing to any score.
func normalize(entities []*model.Entity, columns []string) {
	for _, col := range columns {
		// Fill pass: missing and non-finite become 0.
		for _, e := range entities {
			v, ok := e.Metrics[col]
			if !ok || math.IsInf(v, 0) || math.IsNaN(v) {
				e.MarkMissing(col)
			}
		}

		min, max := math.Inf(1), math.Inf(-1)
		for _, e := range entities {
			v := e.Metrics[col]
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}

		norm := NormColumn(col)
		if len(entities) == 0 {
			continue
		}
		if max == min {
			zap.L().Debug("pipeline: degenerate normalization", zap.String("column", col))
			for _, e := range entities {
				e.Norms[norm] = 0
			}
			continue
		}
		for _, e := range entities {
			e.Norms[norm] = (e.Metrics[col] - min) / (max - min)
		}
	}
}
