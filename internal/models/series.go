package models

import (
	"strings"

	"cloud.google.com/go/civil"
)

type Series int

const (
	SeriesUnknown Series = iota
	SeriesConfirmed
	SeriesDeaths
	SeriesRecovered
)

func (s Series) String() string {
	switch s {
	case SeriesConfirmed:
		return "confirmed"
	case SeriesDeaths:
		return "deaths"
	case SeriesRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// ParseSeries accepts the lower-case names produced by String.
func ParseSeries(s string) Series {
	switch strings.ToLower(s) {
	case "confirmed":
		return SeriesConfirmed
	case "deaths":
		return SeriesDeaths
	case "recovered":
		return SeriesRecovered
	default:
		return SeriesUnknown
	}
}

// SeriesRecord is one (place, date) cell of a wide time-series CSV.
type SeriesRecord struct {
	ID            string     // deterministic, derived from series + join key
	ProvinceState *string    // nil when the CSV cell is empty
	CountryRegion string
	Lat           *float64
	Long          *float64
	Date          civil.Date
	Value         int64 // cumulative metric for Date
}

// Province returns the province or "" when absent.
func (r SeriesRecord) Province() string {
	if r.ProvinceState == nil {
		return ""
	}
	return *r.ProvinceState
}
