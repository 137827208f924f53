package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	_ "modernc.org/sqlite"

	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/query"
)

const timeFormat = time.RFC3339Nano

var seriesTables = map[models.Series]string{
	models.SeriesConfirmed: "confirmed_cases",
	models.SeriesDeaths:    "death_cases",
	models.SeriesRecovered: "recovered_cases",
}

var entityTables = map[string]string{
	query.CovidConfirmed.Name:  "confirmed_cases",
	query.CovidDeath.Name:      "death_cases",
	query.CovidRecover.Name:    "recovered_cases",
	query.CovidData.Name:       "country_summaries",
	query.CovidDataPoints.Name: "data_points",
}

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	var b strings.Builder
	for series, table := range seriesTables {
		fmt.Fprintf(&b, `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			province_state TEXT,
			country_region TEXT NOT NULL,
			lat REAL,
			long REAL,
			date TEXT NOT NULL,
			%[2]s INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_country_date ON %[1]s(country_region, date);
		`, table, series.String())
	}

	b.WriteString(`
		CREATE TABLE IF NOT EXISTS data_points (
			id TEXT PRIMARY KEY,
			province_state TEXT,
			country_region TEXT NOT NULL,
			lat REAL,
			long REAL,
			date TEXT NOT NULL,
			confirmed INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			recovered INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS country_summaries (
			id TEXT PRIMARY KEY,
			province_state TEXT,
			country_region TEXT NOT NULL,
			lat REAL NOT NULL,
			long REAL NOT NULL,
			date TEXT NOT NULL,
			confirmed INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			recovered INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			dataset TEXT PRIMARY KEY,
			row_count INTEGER NOT NULL,
			loaded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_data_points_country_date ON data_points(country_region, date);
		CREATE INDEX IF NOT EXISTS idx_country_summaries_country_date ON country_summaries(country_region, date);
	`)

	_, err := s.db.Exec(b.String())
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// ReplaceSeries swaps the stored copy of one series for records.
func (s *SQLiteDB) ReplaceSeries(ctx context.Context, series models.Series, records []models.SeriesRecord, loadedAt time.Time) error {
	table, ok := seriesTables[series]
	if !ok {
		return fmt.Errorf("unknown series: %s", series)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}

		// a place repeated upstream keeps its last row, as aggregate.Combine does
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT INTO %[1]s (id, province_state, country_region, lat, long, date, %[2]s) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET lat = excluded.lat, long = excluded.long, %[2]s = excluded.%[2]s`,
			table, series.String()))
		if err != nil {
			return fmt.Errorf("error preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.ID, nullable(r.ProvinceState), r.CountryRegion, nullable(r.Lat), nullable(r.Long), r.Date.String(), r.Value); err != nil {
				return fmt.Errorf("error inserting %s record %s: %w", series, r.ID, err)
			}
		}

		var stored int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&stored); err != nil {
			return fmt.Errorf("error counting %s: %w", table, err)
		}

		return upsertSnapshot(ctx, tx, series.String(), stored, loadedAt)
	})
}

// ReplaceCombined swaps the joined data points and country summaries in a
// single transaction.
func (s *SQLiteDB) ReplaceCombined(ctx context.Context, points []models.DataPoint, summaries []models.CountrySummary, loadedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"data_points", "country_summaries"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("error clearing %s: %w", table, err)
			}
		}

		const cols = `(id, province_state, country_region, lat, long, date, confirmed, deaths, recovered) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

		pointStmt, err := tx.PrepareContext(ctx, "INSERT INTO data_points "+cols)
		if err != nil {
			return fmt.Errorf("error preparing insert: %w", err)
		}
		defer pointStmt.Close()

		for _, p := range points {
			if _, err := pointStmt.ExecContext(ctx, p.ID, nullable(p.ProvinceState), p.CountryRegion, nullable(p.Lat), nullable(p.Long), p.Date.String(), p.Confirmed, p.Deaths, p.Recovered); err != nil {
				return fmt.Errorf("error inserting data point %s: %w", p.ID, err)
			}
		}

		summaryStmt, err := tx.PrepareContext(ctx, "INSERT INTO country_summaries "+cols)
		if err != nil {
			return fmt.Errorf("error preparing insert: %w", err)
		}
		defer summaryStmt.Close()

		for _, cs := range summaries {
			if _, err := summaryStmt.ExecContext(ctx, cs.ID, nullable(cs.ProvinceState), cs.CountryRegion, cs.Lat, cs.Long, cs.Date.String(), cs.Confirmed, cs.Deaths, cs.Recovered); err != nil {
				return fmt.Errorf("error inserting country summary %s: %w", cs.ID, err)
			}
		}

		return upsertSnapshot(ctx, tx, models.DatasetCombined, len(points), loadedAt)
	})
}

func upsertSnapshot(ctx context.Context, tx *sql.Tx, dataset string, rows int, loadedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (dataset, row_count, loaded_at) VALUES (?, ?, ?)
		ON CONFLICT(dataset) DO UPDATE SET row_count = excluded.row_count, loaded_at = excluded.loaded_at`,
		dataset, rows, loadedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("error recording snapshot %s: %w", dataset, err)
	}
	return nil
}

// Snapshots lists the datasets currently stored.
func (s *SQLiteDB) Snapshots(ctx context.Context) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dataset, row_count, loaded_at FROM snapshots ORDER BY dataset`)
	if err != nil {
		return nil, fmt.Errorf("error querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var (
			snap     models.Snapshot
			loadedAt string
		)
		if err := rows.Scan(&snap.Dataset, &snap.Rows, &loadedAt); err != nil {
			return nil, fmt.Errorf("error scanning snapshot: %w", err)
		}
		if snap.LoadedAt, err = time.Parse(timeFormat, loadedAt); err != nil {
			return nil, fmt.Errorf("error parsing snapshot time %q: %w", loadedAt, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// List returns up to limit rows of entity matching opts, starting at
// opts.Skip. Rows are ordered by opts.OrderBy and then by the entity key.
func (s *SQLiteDB) List(ctx context.Context, entity *query.Entity, opts *query.Options, limit int) (*Page, error) {
	table, ok := entityTables[entity.Name]
	if !ok {
		return nil, fmt.Errorf("unknown entity: %s", entity.Name)
	}

	where, args, err := compileFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	fields := selectedFields(entity, opts.Select)
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = columnName(f.Name)
	}

	var order []string
	for _, ob := range opts.OrderBy {
		dir := "ASC"
		if ob.Desc {
			dir = "DESC"
		}
		order = append(order, columnName(ob.Field.Name)+" "+dir)
	}
	order = append(order, columnName(entity.Key)+" ASC")

	var q strings.Builder
	fmt.Fprintf(&q, "SELECT %s FROM %s", strings.Join(columns, ", "), table)
	if where != "" {
		q.WriteString(" WHERE " + where)
	}
	fmt.Fprintf(&q, " ORDER BY %s LIMIT ? OFFSET ?", strings.Join(order, ", "))

	page := &Page{}
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		if opts.Count {
			countQuery := "SELECT COUNT(*) FROM " + table
			if where != "" {
				countQuery += " WHERE " + where
			}
			var n int64
			if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&n); err != nil {
				return fmt.Errorf("error counting %s: %w", entity.Name, err)
			}
			page.Count = &n
		}

		rows, err := tx.QueryContext(ctx, q.String(), append(args, limit+1, opts.Skip)...)
		if err != nil {
			return fmt.Errorf("error querying %s: %w", entity.Name, err)
		}
		defer rows.Close()

		for rows.Next() {
			if len(page.Rows) == limit {
				page.HasMore = true
				break
			}
			row, err := scanRow(rows, fields)
			if err != nil {
				return fmt.Errorf("error scanning %s: %w", entity.Name, err)
			}
			page.Rows = append(page.Rows, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func selectedFields(entity *query.Entity, names []string) []query.Field {
	if len(names) == 0 {
		return entity.Fields
	}
	fields := make([]query.Field, 0, len(names))
	for _, f := range entity.Fields {
		for _, n := range names {
			if f.Name == n {
				fields = append(fields, f)
				break
			}
		}
	}
	return fields
}

func scanRow(rows *sql.Rows, fields []query.Field) (Row, error) {
	dest := make([]any, len(fields))
	for i, f := range fields {
		switch f.Type {
		case query.TypeInt:
			dest[i] = new(sql.NullInt64)
		case query.TypeFloat:
			dest[i] = new(sql.NullFloat64)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	if err := rows.Scan(dest...); err != nil {
		return Row{}, err
	}

	row := Row{Fields: make([]string, len(fields)), Values: make([]any, len(fields))}
	for i, f := range fields {
		row.Fields[i] = f.Name
		switch v := dest[i].(type) {
		case *sql.NullInt64:
			if v.Valid {
				row.Values[i] = v.Int64
			}
		case *sql.NullFloat64:
			if v.Valid {
				row.Values[i] = v.Float64
			}
		case *sql.NullString:
			if !v.Valid {
				continue
			}
			if f.Type == query.TypeDate {
				d, err := civil.ParseDate(v.String)
				if err != nil {
					return Row{}, fmt.Errorf("invalid stored date %q: %w", v.String, err)
				}
				row.Values[i] = d
			} else {
				row.Values[i] = v.String
			}
		}
	}
	return row, nil
}

func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDB) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}
