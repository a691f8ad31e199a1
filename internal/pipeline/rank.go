package pipeline

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/upjong-lab/district-cli/internal/model"
)

// ExcludePredicate decides whether an entity is dropped from the final
// output. Exclusion happens after scoring: it is about output
// eligibility, not scoring correctness.
type ExcludePredicate func(*model.Entity) bool

// AggregateCodeRule excludes entities whose key has exactly the given
// length. In the source data these codes are borough-level roll-ups, not
// leaf districts. A non-positive length disables the rule.
func AggregateCodeRule(length int) ExcludePredicate {
	return func(e *model.Entity) bool {
		return length > 0 && len(e.Key) == length
	}
}

// NoSalesRule excludes entities whose sales figures were missing for
// every configured year. Zero-filled values already fed the scorer; this
// final drop keeps entities with no observed sales at all out of the
// published ranking.
func NoSalesRule(years []int) ExcludePredicate {
	return func(e *model.Entity) bool {
		if len(years) == 0 {
			return false
		}
		for _, y := range years {
			if !e.Missing[SalesColumn(y)] {
				return false
			}
		}
		return true
	}
}

// rank sorts entities descending by composite score, applies the
// exclusion rules, and splits off the top-K. Ties break on the
// Korean-collated entity name so output order is deterministic.
func rank(scope model.Scope, entities []*model.Entity, rules []ExcludePredicate, topK int) *model.RankedResult {
	kept := make([]*model.Entity, 0, len(entities))
outer:
	for _, e := range entities {
		for _, rule := range rules {
			if rule(e) {
				continue outer
			}
		}
		kept = append(kept, e)
	}

	coll := collate.New(language.Korean)
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return coll.CompareString(kept[i].Name, kept[j].Name) < 0
	})

	top := kept
	if topK > 0 && len(top) > topK {
		top = top[:topK]
	}

	return &model.RankedResult{Scope: scope, Top: top, All: kept}
}
