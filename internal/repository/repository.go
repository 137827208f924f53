package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/query"
)

// SnapshotRepository stores the latest snapshot of every dataset and
// answers validated queries against it.
type SnapshotRepository interface {
	ReplaceSeries(ctx context.Context, series models.Series, records []models.SeriesRecord, loadedAt time.Time) error
	ReplaceCombined(ctx context.Context, points []models.DataPoint, summaries []models.CountrySummary, loadedAt time.Time) error
	List(ctx context.Context, entity *query.Entity, opts *query.Options, limit int) (*Page, error)
	Snapshots(ctx context.Context) ([]models.Snapshot, error)
}

// Page is one window of query results. Count is set when $count was
// requested and holds the total number of matching rows.
type Page struct {
	Rows    []Row
	Count   *int64
	HasMore bool
}

// Row holds the selected fields of one entity in schema order. Values are
// string, int64, float64, civil.Date or nil.
type Row struct {
	Fields []string
	Values []any
}

func (r Row) Get(name string) (any, bool) {
	for i, f := range r.Fields {
		if f == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
