package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Fetcher opens remote CSV resources over HTTP.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Open returns the response body of url. A 404 yields ErrNotFound; any
// other failure yields a *TransportError.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status: %s, body: %q", resp.Status, strings.TrimSpace(string(payload))),
		}
	}

	return resp.Body, nil
}

// Table is a CSV document addressed by column name.
type Table struct {
	columns map[string]int
	rows    [][]string
	lines   []int
}

// ReadTable decodes a CSV whose first record is the header. Rows shorter
// than the header read missing cells as empty.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Table{columns: map[string]int{}}, nil
	}
	if err != nil {
		return nil, csvError(err)
	}

	t := &Table{columns: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := t.columns[name]; !dup {
			t.columns[name] = i
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := cr.FieldPos(0)
		t.rows = append(t.rows, rec)
		t.lines = append(t.lines, line)
	}

	return t, nil
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

func (t *Table) Row(i int) TableRow {
	return TableRow{table: t, fields: t.rows[i], line: t.lines[i]}
}

// TableRow is one record of a Table.
type TableRow struct {
	table  *Table
	fields []string
	line   int
}

// String returns the trimmed cell for column, or "" if the column or cell
// is missing.
func (r TableRow) String(column string) string {
	i, ok := r.table.columns[column]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Count parses a non-negative cumulative count; empty cells are 0.
func (r TableRow) Count(column string) (int64, error) {
	v, err := parseCount(r.String(column))
	if err != nil {
		return 0, &ParseError{Line: r.line, Column: r.table.columns[column] + 1, Err: fmt.Errorf("column %s: %w", column, err)}
	}
	return v, nil
}

// Time parses the cell with the first matching layout; the zero time is
// returned for empty or unparseable cells.
func (r TableRow) Time(column string, layouts ...string) time.Time {
	s := r.String(column)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// parseCount accepts integers and integral decimals such as "12.0".
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("non-integral count %q", s)
	}
	return int64(f), nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Column: pe.Column, Err: pe.Err}
	}
	return fmt.Errorf("error reading csv: %w", err)
}
