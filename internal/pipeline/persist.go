package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/upjong-lab/district-cli/internal/db"
	"github.com/upjong-lab/district-cli/internal/model"
)

// ResultStore persists full ranked tables back to the database so runs
// can be compared later. Each Save is one run: a shared run id, one row
// per published entity.
type ResultStore struct {
	pool db.Pool
}

func NewResultStore(pool db.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

const resultsMigration = `
CREATE TABLE IF NOT EXISTS score_results (
	run_id      UUID NOT NULL,
	scope_kind  TEXT NOT NULL,
	scope_code  TEXT NOT NULL,
	rank        INTEGER NOT NULL,
	entity_key  TEXT NOT NULL,
	entity_name TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	metrics     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, entity_key)
)`

// Migrate creates the results table.
func (s *ResultStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, resultsMigration)
	return eris.Wrap(err, "pipeline: migrate score_results")
}

// Save writes every published entity of a run. Returns the run id.
func (s *ResultStore) Save(ctx context.Context, result *model.RankedResult, columns []string) (uuid.UUID, error) {
	runID := uuid.New()
	scopeCode := result.Scope.GuCode
	if result.Scope.Kind == model.ScopeIndustry {
		scopeCode = result.Scope.RegionCode
	}
	now := time.Now().UTC()

	for i, e := range result.All {
		metrics := make(map[string]float64, len(columns))
		for _, col := range columns {
			metrics[col] = e.Metrics[col]
		}
		payload, err := json.Marshal(metrics)
		if err != nil {
			return uuid.Nil, eris.Wrapf(err, "pipeline: marshal metrics for %s", e.Key)
		}

		_, err = s.pool.Exec(ctx,
			`INSERT INTO score_results (run_id, scope_kind, scope_code, rank, entity_key, entity_name, score, metrics, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			runID, string(result.Scope.Kind), scopeCode, i+1, e.Key, e.Name, e.Score, payload, now,
		)
		if err != nil {
			return uuid.Nil, eris.Wrapf(err, "pipeline: insert result for %s", e.Key)
		}
	}

	zap.L().Info("pipeline: results saved",
		zap.String("run_id", runID.String()),
		zap.Int("rows", len(result.All)),
	)
	return runID, nil
}
