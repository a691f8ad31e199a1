package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upjong-lab/district-cli/internal/model"
)

func scoredEntity(key, name string, score float64) *model.Entity {
	e := model.NewEntity(key, name)
	e.Score = score
	e.Scored = true
	return e
}

func TestRankDescendingOrder(t *testing.T) {
	entities := []*model.Entity{
		scoredEntity("b", "삼성동", 0.2),
		scoredEntity("a", "역삼동", 0.9),
		scoredEntity("c", "대치동", 0.5),
	}

	result := rank(model.Scope{Kind: model.ScopeDistrict}, entities, nil, 0)

	require.Len(t, result.All, 3)
	assert.Equal(t, "a", result.All[0].Key)
	assert.Equal(t, "c", result.All[1].Key)
	assert.Equal(t, "b", result.All[2].Key)
}

func TestRankKoreanTieBreak(t *testing.T) {
	// Equal scores order by collated name: 가나 before 다라 before 바사.
	entities := []*model.Entity{
		scoredEntity("3", "바사", 0.5),
		scoredEntity("1", "가나", 0.5),
		scoredEntity("2", "다라", 0.5),
	}

	result := rank(model.Scope{Kind: model.ScopeDistrict}, entities, nil, 0)

	require.Len(t, result.All, 3)
	assert.Equal(t, "가나", result.All[0].Name)
	assert.Equal(t, "다라", result.All[1].Name)
	assert.Equal(t, "바사", result.All[2].Name)
}

func TestRankTopKSlice(t *testing.T) {
	entities := []*model.Entity{
		scoredEntity("a", "a", 3),
		scoredEntity("b", "b", 2),
		scoredEntity("c", "c", 1),
	}

	result := rank(model.Scope{}, entities, nil, 2)

	assert.Len(t, result.Top, 2)
	assert.Len(t, result.All, 3)
	assert.Equal(t, "a", result.Top[0].Key)
	assert.Equal(t, "b", result.Top[1].Key)
}

func TestAggregateCodeRule(t *testing.T) {
	rule := AggregateCodeRule(5)
	assert.True(t, rule(scoredEntity("11680", "강남구", 1)))
	assert.False(t, rule(scoredEntity("1168010", "역삼동", 1)))

	disabled := AggregateCodeRule(0)
	assert.False(t, disabled(scoredEntity("11680", "강남구", 1)))
}

func TestNoSalesRule(t *testing.T) {
	years := []int{2022, 2023, 2024}
	rule := NoSalesRule(years)

	allMissing := model.NewEntity("a", "a")
	for _, y := range years {
		allMissing.MarkMissing(SalesColumn(y))
	}
	assert.True(t, rule(allMissing))

	oneYear := model.NewEntity("b", "b")
	oneYear.MarkMissing(SalesColumn(2022))
	oneYear.MarkMissing(SalesColumn(2023))
	oneYear.SetMetric(SalesColumn(2024), 120)
	assert.False(t, rule(oneYear))

	assert.False(t, NoSalesRule(nil)(allMissing))
}

func TestRankAppliesRules(t *testing.T) {
	keep := scoredEntity("1168010", "역삼동", 0.4)
	drop := scoredEntity("11680", "강남구", 0.9)

	result := rank(model.Scope{}, []*model.Entity{keep, drop},
		[]ExcludePredicate{AggregateCodeRule(5)}, 0)

	require.Len(t, result.All, 1)
	assert.Equal(t, "1168010", result.All[0].Key)
}
