package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/mr1hm/go-covid19-stats/internal/aggregate"
	"github.com/mr1hm/go-covid19-stats/internal/models"
)

// Last_Update has been published in several formats over the life of the
// dataset.
var lastUpdateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"1/2/2006 15:04",
	"1/2/06 15:04",
}

// DailyReporter loads the per-state US daily report for a date and reduces
// it to a national summary.
type DailyReporter struct {
	fetcher *Fetcher
	baseURL string
}

func NewDailyReporter(fetcher *Fetcher, baseURL string) *DailyReporter {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &DailyReporter{
		fetcher: fetcher,
		baseURL: baseURL,
	}
}

// ReportURL returns the CSV location for date, named MM-dd-yyyy.csv.
func (d *DailyReporter) ReportURL(date civil.Date) string {
	return d.baseURL + date.In(time.UTC).Format("01-02-2006") + ".csv"
}

// USSummary returns the national summary for date. ok is false, with a nil
// error, when no report was published for that date or it has no rows.
func (d *DailyReporter) USSummary(ctx context.Context, date civil.Date) (models.DailyReport, bool, error) {
	rows, err := d.Rows(ctx, date)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("no daily report published", "date", date.String())
		return models.DailyReport{}, false, nil
	}
	if err != nil {
		return models.DailyReport{}, false, err
	}

	report, ok := aggregate.ReduceDaily(rows)
	return report, ok, nil
}

// Rows fetches and decodes the per-state rows for date.
func (d *DailyReporter) Rows(ctx context.Context, date civil.Date) ([]models.DailyStateRow, error) {
	url := d.ReportURL(date)

	body, err := d.fetcher.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error fetching daily report %s: %w", date, err)
	}
	defer body.Close()

	table, err := ReadTable(body)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			err = &TransportError{URL: url, Err: err}
		}
		return nil, fmt.Errorf("error reading daily report %s: %w", date, err)
	}

	rows := make([]models.DailyStateRow, 0, table.Len())
	for i := range table.Len() {
		row, err := decodeDailyRow(table.Row(i))
		if err != nil {
			return nil, fmt.Errorf("error reading daily report %s: %w", date, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeDailyRow(r TableRow) (models.DailyStateRow, error) {
	row := models.DailyStateRow{
		ProvinceState: r.String("Province_State"),
		CountryRegion: r.String("Country_Region"),
		LastUpdate:    r.Time("Last_Update", lastUpdateLayouts...),
	}

	var err error
	if row.Confirmed, err = r.Count("Confirmed"); err != nil {
		return row, err
	}
	if row.Deaths, err = r.Count("Deaths"); err != nil {
		return row, err
	}
	if row.Recovered, err = r.Count("Recovered"); err != nil {
		return row, err
	}
	if row.Active, err = r.Count("Active"); err != nil {
		return row, err
	}
	return row, nil
}
