package models

import "time"

// DailyStateRow is one row of the per-state US daily report CSV.
type DailyStateRow struct {
	ProvinceState string
	CountryRegion string
	LastUpdate    time.Time // zero when the cell is empty or unparseable
	Confirmed     int64
	Deaths        int64
	Recovered     int64
	Active        int64
}

// DailyReport is the national US summary for a single day.
type DailyReport struct {
	UID               int64     `json:"UID"`
	ProvinceState     *string   `json:"ProvinceState"`
	CountryRegion     string    `json:"CountryRegion"`
	LastUpdate        time.Time `json:"LastUpdate"`
	Lat               *float64  `json:"Lat"`
	Long              *float64  `json:"Long"`
	Confirmed         int64     `json:"Confirmed"`
	Deaths            int64     `json:"Deaths"`
	Recovered         int64     `json:"Recovered"`
	Active            int64     `json:"Active"`
	FIPS              *int64    `json:"FIPS"`
	IncidentRate      *float64  `json:"IncidentRate"`
	CaseFatalityRatio float64   `json:"CaseFatalityRatio"`
	ISO3              string    `json:"ISO3"`
}
