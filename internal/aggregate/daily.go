package aggregate

import "github.com/mr1hm/go-covid19-stats/internal/models"

const (
	usUID  = 840
	usISO3 = "USA"
)

// ReduceDaily collapses per-state rows of a US daily report into a single
// national record. ok is false when there are no rows.
func ReduceDaily(rows []models.DailyStateRow) (report models.DailyReport, ok bool) {
	if len(rows) == 0 {
		return models.DailyReport{}, false
	}

	report = models.DailyReport{
		UID:           usUID,
		CountryRegion: "US",
		ISO3:          usISO3,
	}
	for _, r := range rows {
		report.Confirmed += r.Confirmed
		report.Deaths += r.Deaths
		report.Recovered += r.Recovered
		report.Active += r.Active
		if r.LastUpdate.After(report.LastUpdate) {
			report.LastUpdate = r.LastUpdate
		}
	}
	report.CaseFatalityRatio = CaseFatalityRatio(report.Deaths, report.Confirmed)

	return report, true
}

// CaseFatalityRatio returns deaths as a percentage of confirmed cases, with
// confirmed floored at 1.
func CaseFatalityRatio(deaths, confirmed int64) float64 {
	return 100 * float64(deaths) / float64(max(confirmed, 1))
}
