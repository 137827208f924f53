package models

import "cloud.google.com/go/civil"

// DataPoint joins the three series for one place and date.
type DataPoint struct {
	ID            string     `json:"Id"`
	ProvinceState *string    `json:"ProvinceState"`
	CountryRegion string     `json:"CountryRegion"`
	Lat           *float64   `json:"Lat"`
	Long          *float64   `json:"Long"`
	Date          civil.Date `json:"Date"`
	Confirmed     int64      `json:"Confirmed"`
	Deaths        int64      `json:"Deaths"`
	Recovered     int64      `json:"Recovered"`
}

// CountrySummary is the per-country, per-date sum of DataPoints.
// ProvinceState is always nil and Lat/Long are zero placeholders.
type CountrySummary struct {
	ID            string     `json:"Id"`
	ProvinceState *string    `json:"ProvinceState"`
	CountryRegion string     `json:"CountryRegion"`
	Lat           float64    `json:"Lat"`
	Long          float64    `json:"Long"`
	Date          civil.Date `json:"Date"`
	Confirmed     int64      `json:"Confirmed"`
	Deaths        int64      `json:"Deaths"`
	Recovered     int64      `json:"Recovered"`
}
