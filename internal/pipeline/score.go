package pipeline

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/upjong-lab/district-cli/internal/model"
)

// Weights maps score-column names to signed weights. Positive weights
// reward a metric (population, store counts, survival, sales); negative
// weights penalize it (rent, closures). Sign is part of the contract.
type Weights map[string]float64

// WeightCoverageError reports a mismatch between the weight config and
// the score columns the run produced. Divergence is rejected outright
// instead of silently skipping columns.
type WeightCoverageError struct {
	MissingWeights []string // columns with no weight entry
	UnknownWeights []string // weight entries with no column
}

func (e *WeightCoverageError) Error() string {
	var parts []string
	if len(e.MissingWeights) > 0 {
		parts = append(parts, "columns without weights: "+strings.Join(e.MissingWeights, ", "))
	}
	if len(e.UnknownWeights) > 0 {
		parts = append(parts, "weights without columns: "+strings.Join(e.UnknownWeights, ", "))
	}
	return "pipeline: weight coverage mismatch: " + strings.Join(parts, "; ")
}

// Validate asserts that the weight set and the score columns coincide
// exactly.
func (w Weights) Validate(columns []string) error {
	colSet := make(map[string]bool, len(columns))
	var missing []string
	for _, c := range columns {
		colSet[c] = true
		if _, ok := w[c]; !ok {
			missing = append(missing, c)
		}
	}
	var unknown []string
	for name := range w {
		if !colSet[name] {
			unknown = append(unknown, name)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(missing)
		sort.Strings(unknown)
		return &WeightCoverageError{MissingWeights: missing, UnknownWeights: unknown}
	}
	return nil
}

// LoadWeightsFile reads a standalone weight config, replacing the
// defaults wholesale. The file is a flat mapping of column name to
// signed weight.
func LoadWeightsFile(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read weights file %s", path)
	}
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse weights file %s", path)
	}
	if len(w) == 0 {
		return nil, eris.Errorf("pipeline: weights file %s is empty", path)
	}
	return w, nil
}

// applyScores computes the composite score for every entity as the
// weighted sum of its normalized columns. Pure: same table in, same
// scores out.
func applyScores(entities []*model.Entity, w Weights, columns []string) {
	for _, e := range entities {
		var score float64
		for _, col := range columns {
			score += w[col] * e.Norms[NormColumn(col)]
		}
		e.Score = score
		e.Scored = true
	}
}
