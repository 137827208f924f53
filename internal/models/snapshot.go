package models

import "time"

// Dataset names used for cache, storage and refresh events.
const (
	DatasetConfirmed = "confirmed"
	DatasetDeaths    = "deaths"
	DatasetRecovered = "recovered"
	DatasetCombined  = "combined"
)

var Datasets = []string{DatasetConfirmed, DatasetDeaths, DatasetRecovered, DatasetCombined}

// Snapshot describes the currently stored copy of a dataset.
type Snapshot struct {
	Dataset  string    `json:"dataset"`
	Rows     int       `json:"rows"`
	LoadedAt time.Time `json:"loaded_at"`
}

// RefreshEvent is broadcast after a dataset has been reloaded.
type RefreshEvent struct {
	Dataset  string    `json:"dataset"`
	Rows     int       `json:"rows"`
	LoadedAt time.Time `json:"loaded_at"`
}
