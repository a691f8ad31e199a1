// Package model defines the data types shared by the scoring pipeline:
// scopes, reporting periods, raw source rows, and ranked entities.
package model

import (
	"fmt"
	"sort"
)

// ScopeKind selects which kind of entity the pipeline scores.
type ScopeKind string

const (
	// ScopeDistrict scores administrative districts within a borough (gu).
	ScopeDistrict ScopeKind = "district"
	// ScopeIndustry scores business categories within a single district.
	ScopeIndustry ScopeKind = "industry"
)

// Scope identifies the candidate set for one scoring run.
type Scope struct {
	Kind ScopeKind `json:"kind"`

	// GuCode is the hierarchical region-code prefix of the borough.
	// District mode matches region codes by this prefix.
	GuCode string `json:"gu_code,omitempty"`
	GuName string `json:"gu_name,omitempty"`

	// RegionCode and RegionName pin industry mode to a single district.
	RegionCode string `json:"region_code,omitempty"`
	RegionName string `json:"region_name,omitempty"`

	// Category restricts district mode to one business category; in
	// industry mode it is empty (all categories compete).
	Category string `json:"category,omitempty"`

	// ServiceCode is the source's code for Category, used to filter the
	// sales tables. Empty means all categories.
	ServiceCode string `json:"service_code,omitempty"`
}

func (s Scope) String() string {
	if s.Kind == ScopeIndustry {
		return fmt.Sprintf("industry(%s %s)", s.RegionName, s.RegionCode)
	}
	return fmt.Sprintf("district(%s %s)", s.GuName, s.GuCode)
}

// Period is one reporting interval in the source data.
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// Before reports whether p precedes q in (year, quarter) order.
func (p Period) Before(q Period) bool {
	if p.Year != q.Year {
		return p.Year < q.Year
	}
	return p.Quarter < q.Quarter
}

func (p Period) String() string {
	return fmt.Sprintf("%dQ%d", p.Year, p.Quarter)
}

// RecentPeriods returns the n most recent distinct periods, newest first.
// The input is not modified.
func RecentPeriods(periods []Period, n int) []Period {
	seen := make(map[Period]bool, len(periods))
	var distinct []Period
	for _, p := range periods {
		if !seen[p] {
			seen[p] = true
			distinct = append(distinct, p)
		}
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[j].Before(distinct[i]) })
	if n > 0 && len(distinct) > n {
		distinct = distinct[:n]
	}
	return distinct
}

// MetricRow is one raw observation from a metric table. Value arrives as
// text and is coerced to numeric during aggregation; rows that fail
// coercion are dropped, not zeroed.
type MetricRow struct {
	EntityKey  string `json:"entity_key"`
	EntityName string `json:"entity_name"`
	// RegionCode carries the district code even when the entity key is a
	// category, so scope filtering works in both modes.
	RegionCode string `json:"region_code"`
	Period     Period `json:"period"`
	Value      string `json:"value"`
}

// SalesRow is one quarter of sales for a zone and service code.
type SalesRow struct {
	ZoneID      string  `json:"zone_id"`
	ServiceCode string  `json:"service_code"`
	Period      Period  `json:"period"`
	Amount      float64 `json:"amount"`
}

// StoreCountRow is the store count for a zone, service, and quarter.
type StoreCountRow struct {
	ZoneID      string  `json:"zone_id"`
	ServiceCode string  `json:"service_code"`
	Period      Period  `json:"period"`
	Count       float64 `json:"count"`
}

// Zone maps a commercial zone to the district it belongs to.
type Zone struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RegionCode string `json:"region_code"`
	RegionName string `json:"region_name"`
}

// Entity is one scoreable unit: a district, or a category within a
// district. Metrics holds time-averaged raw values; Norms the min-max
// normalized values; Missing marks metrics that had no source data before
// zero-fill (used by the final eligibility filter, not by scoring).
type Entity struct {
	Key     string             `json:"key"`
	Name    string             `json:"name"`
	Metrics map[string]float64 `json:"metrics"`
	Norms   map[string]float64 `json:"norms,omitempty"`
	Missing map[string]bool    `json:"-"`
	Score   float64            `json:"score"`
	Scored  bool               `json:"scored"`
}

// NewEntity returns an Entity with initialized maps.
func NewEntity(key, name string) *Entity {
	return &Entity{
		Key:     key,
		Name:    name,
		Metrics: make(map[string]float64),
		Norms:   make(map[string]float64),
		Missing: make(map[string]bool),
	}
}

// SetMetric records a raw metric value.
func (e *Entity) SetMetric(name string, v float64) {
	e.Metrics[name] = v
}

// MarkMissing records a zero-filled metric so the ranker can distinguish
// "genuinely zero" from "no data".
func (e *Entity) MarkMissing(name string) {
	e.Missing[name] = true
	e.Metrics[name] = 0
}

// RankedResult is the artifact a scoring run returns upstream: the top-K
// slice for presentation plus the full sorted table for persistence.
type RankedResult struct {
	Scope Scope     `json:"scope"`
	Top   []*Entity `json:"top"`
	All   []*Entity `json:"all"`
}
