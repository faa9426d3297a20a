// Package filter implements the activity filter engine. Filters are pure
// predicates composed by logical AND; applying them never mutates the
// input slice and never errors.
package filter

import (
	"time"

	"github.com/shopspring/decimal"

	"iati-import-service/internal/geography"
	"iati-import-service/internal/models"
)

// ValidationFilter selects activities by validation outcome.
type ValidationFilter string

const (
	ValidationAll      ValidationFilter = "all"
	ValidationValid    ValidationFilter = "valid"
	ValidationWarnings ValidationFilter = "warnings"
	ValidationErrors   ValidationFilter = "errors"
)

// CountryScope narrows a country filter to full or partial allocations.
type CountryScope string

const (
	ScopeAll     CountryScope = "all"
	ScopeFull    CountryScope = "full"
	ScopePartial CountryScope = "partial"
)

// PresenceFilter selects activities by whether a child collection is
// populated.
type PresenceFilter string

const (
	PresenceAll  PresenceFilter = "all"
	PresenceHas  PresenceFilter = "has"
	PresenceNone PresenceFilter = "none"
)

// Criteria holds all independently toggleable filter settings. The zero
// value of each field disables that filter.
type Criteria struct {
	Validation           ValidationFilter
	Country              string
	CountryScope         CountryScope
	Hierarchy            *int
	DateStart            *time.Time
	DateEnd              *time.Time
	Transactions         PresenceFilter
	Budgets              PresenceFilter
	PlannedDisbursements PresenceFilter
}

// Apply returns the activities matching every active criterion. The input
// slice is never modified; activities keep their original order.
func Apply(activities []*models.ParsedActivity, c Criteria) []*models.ParsedActivity {
	result := make([]*models.ParsedActivity, 0, len(activities))
	for _, a := range activities {
		if !matches(a, c) {
			continue
		}
		result = append(result, a)
	}
	return result
}

func matches(a *models.ParsedActivity, c Criteria) bool {
	if !matchesValidation(a, c.Validation) {
		return false
	}
	if !matchesCountry(a, c.Country, c.CountryScope) {
		return false
	}
	if c.Hierarchy != nil {
		if a.Hierarchy == nil || *a.Hierarchy != *c.Hierarchy {
			return false
		}
	}
	if !matchesDateRange(a, c.DateStart, c.DateEnd) {
		return false
	}
	if !matchesPresence(len(a.Transactions), c.Transactions) {
		return false
	}
	if !matchesPresence(len(a.Budgets), c.Budgets) {
		return false
	}
	if !matchesPresence(len(a.PlannedDisbursements), c.PlannedDisbursements) {
		return false
	}
	return true
}

func matchesValidation(a *models.ParsedActivity, f ValidationFilter) bool {
	switch f {
	case ValidationValid:
		return !a.HasErrors() && !a.HasWarnings()
	case ValidationWarnings:
		return a.HasWarnings() && !a.HasErrors()
	case ValidationErrors:
		return a.HasErrors()
	default:
		return true
	}
}

// matchesCountry checks declared recipient countries first and falls back
// to location-based inference only when no countries are declared. The
// scope sub-filter applies only when a country is selected.
func matchesCountry(a *models.ParsedActivity, country string, scope CountryScope) bool {
	if country == "" {
		return true
	}

	if len(a.RecipientCountries) == 0 {
		signal := geography.InferFromLocations(a)
		return signal != nil && geography.CodesEqual(signal.Code, country)
	}

	var allocation *models.CountryAllocation
	for i := range a.RecipientCountries {
		if geography.CodesEqual(a.RecipientCountries[i].Code, country) {
			allocation = &a.RecipientCountries[i]
			break
		}
	}
	if allocation == nil {
		return false
	}

	switch scope {
	case ScopeFull:
		// Full scope means the country takes the whole activity: either a
		// declared 100% allocation or the only country listed.
		return allocation.Percentage.Equal(decimal.NewFromInt(100)) ||
			len(a.RecipientCountries) == 1
	case ScopePartial:
		return len(a.RecipientCountries) > 1 &&
			!allocation.Percentage.Equal(decimal.NewFromInt(100))
	default:
		return true
	}
}

// matchesDateRange includes an activity when the filter window overlaps any
// of its four date fields, or when the activity's own span fully contains
// the window. Activities with no parseable dates are always included.
func matchesDateRange(a *models.ParsedActivity, start, end *time.Time) bool {
	if start == nil && end == nil {
		return true
	}

	dates := collectDates(a)
	if len(dates) == 0 {
		return true
	}

	for _, d := range dates {
		if inWindow(d, start, end) {
			return true
		}
	}

	spanStart, spanEnd := a.DateSpan()
	if !spanStart.IsZero() && !spanEnd.IsZero() {
		windowStart := spanStart
		if start != nil {
			windowStart = *start
		}
		windowEnd := spanEnd
		if end != nil {
			windowEnd = *end
		}
		if !spanStart.After(windowStart) && !spanEnd.Before(windowEnd) {
			return true
		}
	}
	return false
}

func collectDates(a *models.ParsedActivity) []time.Time {
	var dates []time.Time
	for _, raw := range []string{
		a.PlannedStartDate, a.ActualStartDate,
		a.PlannedEndDate, a.ActualEndDate,
	} {
		if t, err := models.ParseISODate(raw); err == nil {
			dates = append(dates, t)
		}
	}
	return dates
}

func inWindow(d time.Time, start, end *time.Time) bool {
	if start != nil && d.Before(*start) {
		return false
	}
	if end != nil && d.After(*end) {
		return false
	}
	return true
}

func matchesPresence(count int, f PresenceFilter) bool {
	switch f {
	case PresenceHas:
		return count > 0
	case PresenceNone:
		return count == 0
	default:
		return true
	}
}
