package services

import (
	"strings"
	"time"

	"sales-dashboard/internal/models"
)

type predicate func(*models.SalesRecord) bool

// Query filters ds by spec and returns the requested page. Survivors keep
// dataset order. Query never modifies ds.
func Query(ds *models.Dataset, spec models.QuerySpec) models.QueryResult {
	offset := max(spec.Offset, 0)
	limit := max(spec.EffectiveLimit(), 0)

	result := models.QueryResult{
		Data:   []models.SalesRecord{},
		Limit:  limit,
		Offset: offset,
	}
	if ds == nil {
		return result
	}

	preds := predicates(spec)
	survivors := 0
	for i := range ds.Records {
		rec := &ds.Records[i]
		if !matchAll(rec, preds) {
			continue
		}
		if survivors >= offset && len(result.Data) < limit {
			result.Data = append(result.Data, *rec)
		}
		survivors++
	}
	result.Total = survivors

	return result
}

// Matches reports whether rec satisfies every constraint in spec, ignoring
// pagination.
func Matches(rec *models.SalesRecord, spec models.QuerySpec) bool {
	return matchAll(rec, predicates(spec))
}

func matchAll(rec *models.SalesRecord, preds []predicate) bool {
	for _, p := range preds {
		if !p(rec) {
			return false
		}
	}
	return true
}

// predicates builds the active constraints cheapest first: priority
// equality, then substring fields, then the date range.
func predicates(spec models.QuerySpec) []predicate {
	var preds []predicate

	if want := strings.TrimSpace(spec.OrderPriority); want != "" {
		preds = append(preds, func(r *models.SalesRecord) bool {
			return strings.EqualFold(r.OrderPriority, want)
		})
	}

	substrings := []struct {
		needle string
		field  func(*models.SalesRecord) string
	}{
		{spec.Region, func(r *models.SalesRecord) string { return r.Region }},
		{spec.Country, func(r *models.SalesRecord) string { return r.Country }},
		{spec.ItemType, func(r *models.SalesRecord) string { return r.ItemType }},
		{spec.SalesChannel, func(r *models.SalesRecord) string { return r.SalesChannel }},
	}
	for _, s := range substrings {
		needle := strings.ToLower(strings.TrimSpace(s.needle))
		if needle == "" {
			continue
		}
		field := s.field
		preds = append(preds, func(r *models.SalesRecord) bool {
			return containsFold(field(r), needle)
		})
	}

	if spec.HasDateRange() {
		start, end := spec.StartDate, spec.EndDate
		preds = append(preds, func(r *models.SalesRecord) bool {
			return withinRange(r.OrderedAt, start, end)
		})
	}

	return preds
}

// containsFold reports whether lowerNeedle occurs in s, ignoring case.
// lowerNeedle must already be lower case.
func containsFold(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}

// withinRange compares calendar days inclusively. A record without a
// parseable order date never satisfies an active range.
func withinRange(day time.Time, start, end *time.Time) bool {
	if day.IsZero() {
		return false
	}
	if start != nil && day.Before(truncateDay(*start)) {
		return false
	}
	if end != nil && day.After(truncateDay(*end)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
