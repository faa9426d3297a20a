package geography

import "iati-import-service/internal/models"

// boundingBox is a rectangular lat/lng extent. Rectangles are a rough
// approximation of country shape; inference from them is low confidence.
type boundingBox struct {
	minLat, maxLat float64
	minLng, maxLng float64
}

func (b boundingBox) contains(c models.Coordinates) bool {
	return c.Latitude >= b.minLat && c.Latitude <= b.maxLat &&
		c.Longitude >= b.minLng && c.Longitude <= b.maxLng
}

// countryBounds maps ISO 3166-1 alpha-2 codes to rectangular extents for
// the countries the importer commonly sees.
var countryBounds = map[string]boundingBox{
	"MM": {minLat: 9.5, maxLat: 28.6, minLng: 92.1, maxLng: 101.2},  // Myanmar
	"TH": {minLat: 5.6, maxLat: 20.5, minLng: 97.3, maxLng: 105.7},  // Thailand
	"KH": {minLat: 10.4, maxLat: 14.7, minLng: 102.3, maxLng: 107.6}, // Cambodia
	"LA": {minLat: 13.9, maxLat: 22.5, minLng: 100.1, maxLng: 107.7}, // Laos
	"VN": {minLat: 8.4, maxLat: 23.4, minLng: 102.1, maxLng: 109.5},  // Vietnam
	"BD": {minLat: 20.7, maxLat: 26.6, minLng: 88.0, maxLng: 92.7},   // Bangladesh
	"NP": {minLat: 26.3, maxLat: 30.4, minLng: 80.0, maxLng: 88.2},   // Nepal
	"KE": {minLat: -4.7, maxLat: 5.5, minLng: 33.9, maxLng: 41.9},    // Kenya
	"UG": {minLat: -1.5, maxLat: 4.2, minLng: 29.5, maxLng: 35.0},    // Uganda
	"TZ": {minLat: -11.7, maxLat: -1.0, minLng: 29.3, maxLng: 40.4},  // Tanzania
	"ET": {minLat: 3.4, maxLat: 14.9, minLng: 33.0, maxLng: 48.0},    // Ethiopia
	"SO": {minLat: -1.7, maxLat: 12.0, minLng: 40.9, maxLng: 51.4},   // Somalia
	"SS": {minLat: 3.5, maxLat: 12.2, minLng: 24.1, maxLng: 35.9},    // South Sudan
	"AF": {minLat: 29.4, maxLat: 38.5, minLng: 60.5, maxLng: 74.9},   // Afghanistan
	"YE": {minLat: 12.1, maxLat: 19.0, minLng: 42.5, maxLng: 54.5},   // Yemen
	"SY": {minLat: 32.3, maxLat: 37.3, minLng: 35.7, maxLng: 42.4},   // Syria
	"UA": {minLat: 44.4, maxLat: 52.4, minLng: 22.1, maxLng: 40.2},   // Ukraine
	"HT": {minLat: 18.0, maxLat: 20.1, minLng: -74.5, maxLng: -71.6}, // Haiti
	"CD": {minLat: -13.5, maxLat: 5.4, minLng: 12.2, maxLng: 31.3},   // DR Congo
	"ML": {minLat: 10.2, maxLat: 25.0, minLng: -12.2, maxLng: 4.3},   // Mali
}

// alpha2ToAlpha3 maps ISO alpha-2 codes to their alpha-3 equivalents for
// the countries in countryBounds.
var alpha2ToAlpha3 = map[string]string{
	"MM": "MMR",
	"TH": "THA",
	"KH": "KHM",
	"LA": "LAO",
	"VN": "VNM",
	"BD": "BGD",
	"NP": "NPL",
	"KE": "KEN",
	"UG": "UGA",
	"TZ": "TZA",
	"ET": "ETH",
	"SO": "SOM",
	"SS": "SSD",
	"AF": "AFG",
	"YE": "YEM",
	"SY": "SYR",
	"UA": "UKR",
	"HT": "HTI",
	"CD": "COD",
	"ML": "MLI",
}

// inferredConfidence is the fixed confidence attached to bounding-box
// inference. Rectangles misclassify near borders, so it stays well below
// declared data.
const inferredConfidence = 0.6

// InferFromLocations attempts to infer a single country from an activity's
// geocoded locations. It returns a signal only when the activity has at
// least one location with coordinates and all such locations fall inside
// exactly one country's bounding box. Declared recipient countries should
// always take precedence over this inference.
func InferFromLocations(a *models.ParsedActivity) *CountrySignal {
	var points []models.Coordinates
	for _, loc := range a.Locations {
		if loc.Coordinates != nil {
			points = append(points, *loc.Coordinates)
		}
	}
	if len(points) == 0 {
		return nil
	}

	var match string
	for code, box := range countryBounds {
		all := true
		for _, p := range points {
			if !box.contains(p) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		if match != "" {
			// Ambiguous: points fit more than one box.
			return nil
		}
		match = code
	}
	if match == "" {
		return nil
	}

	return &CountrySignal{
		Code:       match,
		Source:     SourceInferred,
		Confidence: inferredConfidence,
	}
}

// DeclaredSignal wraps a declared recipient-country code as a full
// confidence signal.
func DeclaredSignal(code string) *CountrySignal {
	code = normalizeCode(code)
	if code == "" {
		return nil
	}
	return &CountrySignal{
		Code:       code,
		Source:     SourceDeclared,
		Confidence: 1.0,
	}
}
