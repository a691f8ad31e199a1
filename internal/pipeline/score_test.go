package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upjong-lab/district-cli/internal/model"
)

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name        string
		weights     Weights
		columns     []string
		wantMissing []string
		wantUnknown []string
	}{
		{
			name:    "exact coverage",
			weights: Weights{"a": 0.5, "b": -0.5},
			columns: []string{"a", "b"},
		},
		{
			name:        "column without weight",
			weights:     Weights{"a": 0.5},
			columns:     []string{"a", "b"},
			wantMissing: []string{"b"},
		},
		{
			name:        "weight without column",
			weights:     Weights{"a": 0.5, "typo": 0.1},
			columns:     []string{"a"},
			wantUnknown: []string{"typo"},
		},
		{
			name:        "both directions",
			weights:     Weights{"a": 0.5, "typo": 0.1},
			columns:     []string{"a", "b"},
			wantMissing: []string{"b"},
			wantUnknown: []string{"typo"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate(tt.columns)
			if len(tt.wantMissing) == 0 && len(tt.wantUnknown) == 0 {
				assert.NoError(t, err)
				return
			}
			var cov *WeightCoverageError
			require.ErrorAs(t, err, &cov)
			assert.Equal(t, tt.wantMissing, cov.MissingWeights)
			assert.Equal(t, tt.wantUnknown, cov.UnknownWeights)
		})
	}
}

func TestLoadWeightsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("floating_population: 0.3\nrent_first_floor: -0.2\n"), 0o644))

	w, err := LoadWeightsFile(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, w["floating_population"], 1e-9)
	assert.InDelta(t, -0.2, w["rent_first_floor"], 1e-9)
}

func TestLoadWeightsFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWeightsFile(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
		_, err := LoadWeightsFile(path)
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("a: [unclosed"), 0o644))
		_, err := LoadWeightsFile(path)
		assert.Error(t, err)
	})
}

func TestApplyScores(t *testing.T) {
	a := model.NewEntity("a", "a")
	a.Norms[NormColumn("pos")] = 1
	a.Norms[NormColumn("neg")] = 0
	b := model.NewEntity("b", "b")
	b.Norms[NormColumn("pos")] = 0.5
	b.Norms[NormColumn("neg")] = 1

	w := Weights{"pos": 0.6, "neg": -0.4}
	applyScores([]*model.Entity{a, b}, w, []string{"pos", "neg"})

	assert.InDelta(t, 0.6, a.Score, 1e-9)
	assert.InDelta(t, 0.3-0.4, b.Score, 1e-9)
	assert.True(t, a.Scored)
	assert.True(t, b.Scored)
}

func TestNormalizeAndScoreTwoCandidates(t *testing.T) {
	// With two candidates the dominant entity normalizes to 1 on every
	// column, higher rent included, so its score is the plain weight sum.
	a := model.NewEntity("A", "A")
	a.SetMetric("population", 10000)
	a.SetMetric("rent", 100000)
	a.SetMetric("survival_5yr", 60)
	a.SetMetric("sales_2024", 5000000)
	b := model.NewEntity("B", "B")
	b.SetMetric("population", 5000)
	b.SetMetric("rent", 50000)
	b.SetMetric("survival_5yr", 40)
	b.SetMetric("sales_2024", 3000000)

	columns := []string{"population", "rent", "survival_5yr", "sales_2024"}
	w := Weights{"population": 0.3, "rent": -0.2, "survival_5yr": 0.2, "sales_2024": 0.3}
	require.NoError(t, w.Validate(columns))

	entities := []*model.Entity{a, b}
	normalize(entities, columns)

	for _, col := range columns {
		assert.InDelta(t, 1, a.Norms[NormColumn(col)], 1e-9, col)
		assert.InDelta(t, 0, b.Norms[NormColumn(col)], 1e-9, col)
	}

	applyScores(entities, w, columns)

	assert.InDelta(t, 0.6, a.Score, 1e-9)
	assert.InDelta(t, 0.0, b.Score, 1e-9)

	ranked := rank(model.Scope{Kind: model.ScopeDistrict}, entities, nil, 5)
	require.Len(t, ranked.All, 2)
	assert.Equal(t, "A", ranked.All[0].Key)
}
