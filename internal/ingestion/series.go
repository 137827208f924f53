package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/mr1hm/go-covid19-stats/internal/models"
)

// Province/State, Country/Region, Lat, Long precede the date columns.
const placeColumns = 4

var dateHeaderLayouts = []string{"1/2/06", "1/2/2006"}

// ParseDateHeader parses a time-series column header such as "1/22/20".
func ParseDateHeader(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateHeaderLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("invalid date header %q", s)
}

// ReadSeries reshapes a wide time-series CSV into one record per row and
// date column. Iteration stops at the first error, which is yielded once.
func ReadSeries(r io.Reader, series models.Series) iter.Seq2[models.SeriesRecord, error] {
	return func(yield func(models.SeriesRecord, error) bool) {
		cr := csv.NewReader(r)
		cr.ReuseRecord = true

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			yield(models.SeriesRecord{}, &ParseError{Line: 1, Err: errors.New("missing header")})
			return
		}
		if err != nil {
			yield(models.SeriesRecord{}, csvError(err))
			return
		}
		if len(header) < placeColumns {
			yield(models.SeriesRecord{}, &ParseError{Line: 1, Err: fmt.Errorf("expected at least %d columns, got %d", placeColumns, len(header))})
			return
		}

		dates := make([]civil.Date, 0, len(header)-placeColumns)
		for i, h := range header[placeColumns:] {
			d, err := ParseDateHeader(h)
			if err != nil {
				yield(models.SeriesRecord{}, &ParseError{Line: 1, Column: placeColumns + i + 1, Err: err})
				return
			}
			dates = append(dates, d)
		}

		kind := series.String()
		for {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(models.SeriesRecord{}, csvError(err))
				return
			}
			line, _ := cr.FieldPos(0)

			province := optionalString(row[0])
			country := strings.TrimSpace(row[1])
			lat, err := optionalFloat(row[2])
			if err != nil {
				yield(models.SeriesRecord{}, &ParseError{Line: line, Column: 3, Err: err})
				return
			}
			long, err := optionalFloat(row[3])
			if err != nil {
				yield(models.SeriesRecord{}, &ParseError{Line: line, Column: 4, Err: err})
				return
			}

			provinceKey := ""
			if province != nil {
				provinceKey = *province
			}

			for i, date := range dates {
				value, err := parseCount(row[placeColumns+i])
				if err != nil {
					yield(models.SeriesRecord{}, &ParseError{Line: line, Column: placeColumns + i + 1, Err: err})
					return
				}
				rec := models.SeriesRecord{
					ID:            models.EntityID(kind, country, provinceKey, date),
					ProvinceState: province,
					CountryRegion: country,
					Lat:           lat,
					Long:          long,
					Date:          date,
					Value:         value,
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// SeriesLoader downloads and reshapes one global time series.
type SeriesLoader struct {
	fetcher *Fetcher
	series  models.Series
	url     string
}

func NewSeriesLoader(fetcher *Fetcher, series models.Series, url string) *SeriesLoader {
	return &SeriesLoader{
		fetcher: fetcher,
		series:  series,
		url:     url,
	}
}

func (l *SeriesLoader) Series() models.Series {
	return l.series
}

// Load fetches the full series. Any transport or parse failure aborts the
// load; no partial result is returned.
func (l *SeriesLoader) Load(ctx context.Context) ([]models.SeriesRecord, error) {
	start := time.Now()

	body, err := l.fetcher.Open(ctx, l.url)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s series: %w", l.series, err)
	}
	defer body.Close()

	var records []models.SeriesRecord
	for rec, err := range ReadSeries(body, l.series) {
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				err = &TransportError{URL: l.url, Err: err}
			}
			return nil, fmt.Errorf("error reading %s series: %w", l.series, err)
		}
		records = append(records, rec)
	}

	slog.Debug("series loaded", "series", l.series.String(), "records", len(records), "elapsed", time.Since(start))
	return records, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinate %q", s)
	}
	return &f, nil
}
