// Package geography classifies activities by geographic scope and provides
// a low-confidence location-based country inference fallback.
package geography

import (
	"strings"

	"iati-import-service/internal/models"
)

// Scope is the geographic classification of an activity's spending.
type Scope string

const (
	ScopeNational Scope = "National"
	ScopeRegional Scope = "Regional"
	ScopeUnknown  Scope = "Unknown"
)

// SignalSource records where a country signal came from.
type SignalSource string

const (
	SourceDeclared SignalSource = "declared"
	SourceInferred SignalSource = "inferred"
)

// CountrySignal is a country attribution with provenance. Inferred signals
// carry a confidence below 1.0 and are only consulted by the country
// prefilter, never by Classify.
type CountrySignal struct {
	Code       string
	Source     SignalSource
	Confidence float64
}

// Classify determines whether an activity targets a single country, spans
// multiple countries or regions, or gives no geographic signal at all.
// Rules are evaluated in precedence order; the first match wins.
//
// Percentage allocations are ignored here: a sole recipient country at any
// percentage classifies as National. The percentage-sensitive scope filter
// lives in the filter package.
func Classify(a *models.ParsedActivity, filterCountry string) Scope {
	if len(a.RecipientRegions) > 0 {
		return ScopeRegional
	}
	if len(a.RecipientCountries) > 1 {
		return ScopeRegional
	}

	txCountries := make(map[string]bool)
	for _, tx := range a.Transactions {
		if tx.RecipientRegionCode != "" {
			return ScopeRegional
		}
		if code := normalizeCode(tx.RecipientCountryCode); code != "" {
			txCountries[code] = true
		}
	}
	if len(txCountries) > 1 {
		return ScopeRegional
	}

	soleCountry := ""
	if len(a.RecipientCountries) == 1 {
		soleCountry = normalizeCode(a.RecipientCountries[0].Code)
	} else {
		for code := range txCountries {
			soleCountry = code
		}
	}
	if soleCountry == "" {
		return ScopeUnknown
	}

	if filterCountry != "" {
		if CodesEqual(soleCountry, filterCountry) {
			return ScopeNational
		}
		return ScopeRegional
	}
	return ScopeNational
}

// CodesEqual compares two country codes case-insensitively, treating a
// 2-letter code and its 3-letter equivalent as the same country.
func CodesEqual(a, b string) bool {
	a = normalizeCode(a)
	b = normalizeCode(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if alpha3, ok := alpha2ToAlpha3[a]; ok && alpha3 == b {
		return true
	}
	if alpha3, ok := alpha2ToAlpha3[b]; ok && alpha3 == a {
		return true
	}
	return false
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
