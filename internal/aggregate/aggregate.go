// Package aggregate joins the confirmed, deaths and recovered series into
// per-place data points and rolls them up per country.
package aggregate

import (
	"cloud.google.com/go/civil"

	"github.com/mr1hm/go-covid19-stats/internal/models"
)

const (
	kindDataPoint = "datapoint"
	kindCountry   = "country"
)

type joinKey struct {
	country  string
	province string
	date     civil.Date
}

func keyOf(r models.SeriesRecord) joinKey {
	return joinKey{country: r.CountryRegion, province: r.Province(), date: r.Date}
}

// Combine joins the three series on (country, province, date). Confirmed
// drives the key space: every confirmed key yields exactly one DataPoint,
// deaths and recovered default to 0, and deaths/recovered records whose key
// is missing from confirmed are dropped.
//
// Output follows the first-seen order of confirmed keys. A repeated confirmed
// key keeps its first position and takes the last value.
func Combine(confirmed, deaths, recovered []models.SeriesRecord) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(confirmed))
	index := make(map[joinKey]int, len(confirmed))

	for _, r := range confirmed {
		k := keyOf(r)
		if i, ok := index[k]; ok {
			points[i].Confirmed = r.Value
			continue
		}
		index[k] = len(points)
		points = append(points, models.DataPoint{
			ID:            models.EntityID(kindDataPoint, k.country, k.province, k.date),
			ProvinceState: r.ProvinceState,
			CountryRegion: r.CountryRegion,
			Lat:           r.Lat,
			Long:          r.Long,
			Date:          r.Date,
			Confirmed:     r.Value,
		})
	}

	for _, r := range deaths {
		if i, ok := index[keyOf(r)]; ok {
			points[i].Deaths = r.Value
		}
	}
	for _, r := range recovered {
		if i, ok := index[keyOf(r)]; ok {
			points[i].Recovered = r.Value
		}
	}

	return points
}

type countryKey struct {
	country string
	date    civil.Date
}

// Summarize sums data points per (country, date), discarding province and
// coordinates. Output follows first-seen order.
func Summarize(points []models.DataPoint) []models.CountrySummary {
	summaries := make([]models.CountrySummary, 0)
	index := make(map[countryKey]int)

	for _, p := range points {
		k := countryKey{country: p.CountryRegion, date: p.Date}
		i, ok := index[k]
		if !ok {
			i = len(summaries)
			index[k] = i
			summaries = append(summaries, models.CountrySummary{
				ID:            models.EntityID(kindCountry, k.country, "", k.date),
				CountryRegion: k.country,
				Date:          k.date,
			})
		}
		summaries[i].Confirmed += p.Confirmed
		summaries[i].Deaths += p.Deaths
		summaries[i].Recovered += p.Recovered
	}

	return summaries
}
