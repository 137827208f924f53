package client

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/civil"
	"github.com/dustin/go-humanize"
)

type Metric string

const (
	MetricConfirmed Metric = "Confirmed"
	MetricDeaths    Metric = "Deaths"
	MetricRecovered Metric = "Recovered"
)

func ParseMetric(s string) (Metric, error) {
	for _, m := range []Metric{MetricConfirmed, MetricDeaths, MetricRecovered} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q, expected confirmed, deaths or recovered", s)
}

// CountryData is the latest known state of one country.
type CountryData struct {
	CountryRegion string
	Confirmed     int64
	Deaths        int64
	Recovered     int64
	LastUpdate    civil.Date
}

func (d CountryData) Value(m Metric) int64 {
	switch m {
	case MetricDeaths:
		return d.Deaths
	case MetricRecovered:
		return d.Recovered
	default:
		return d.Confirmed
	}
}

// LatestByCountry keeps, for each country, the row with the latest date.
// On equal dates the first row seen wins. The result is ordered by country.
func LatestByCountry(rows []CovidData) []CountryData {
	latest := make(map[string]CountryData)
	for _, row := range rows {
		cur, ok := latest[row.CountryRegion]
		if ok && !cur.LastUpdate.Before(row.Date) {
			continue
		}
		latest[row.CountryRegion] = CountryData{
			CountryRegion: row.CountryRegion,
			Confirmed:     row.Confirmed,
			Deaths:        row.Deaths,
			Recovered:     row.Recovered,
			LastUpdate:    row.Date,
		}
	}

	out := make([]CountryData, 0, len(latest))
	for _, d := range latest {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b CountryData) int {
		return cmp.Compare(a.CountryRegion, b.CountryRegion)
	})
	return out
}

// Rank returns a copy of data sorted by the metric, largest first.
func Rank(data []CountryData, m Metric) []CountryData {
	out := slices.Clone(data)
	slices.SortStableFunc(out, func(a, b CountryData) int {
		if c := cmp.Compare(b.Value(m), a.Value(m)); c != 0 {
			return c
		}
		return cmp.Compare(a.CountryRegion, b.CountryRegion)
	})
	return out
}

// Shade is one step of the five-colour choropleth scale.
type Shade struct {
	Color  string
	Symbol string
}

var Shades = [5]Shade{
	{Color: "#f7f7f7", Symbol: "·"},
	{Color: "#fee5d9", Symbol: "░"},
	{Color: "#fcae91", Symbol: "▒"},
	{Color: "#fb6a4a", Symbol: "▓"},
	{Color: "#cb181d", Symbol: "█"},
}

// Scale buckets values on a log10 axis. The stops are 0, the smallest
// non-zero value, 10% of the largest, 50% of the largest and the largest.
type Scale struct {
	stops [5]float64
}

func NewScale(values []int64) Scale {
	var minPos, peak int64
	for _, v := range values {
		peak = max(peak, v)
		if v > 0 && (minPos == 0 || v < minPos) {
			minPos = v
		}
	}
	if peak == 0 {
		return Scale{}
	}

	m := float64(peak)
	return Scale{stops: [5]float64{
		0,
		math.Log10(float64(minPos) + 1),
		math.Log10(m * 0.1),
		math.Log10(m * 0.5),
		math.Log10(m),
	}}
}

// Bucket returns the index into Shades for v. Zero and negative values
// always map to the lightest shade.
func (s Scale) Bucket(v int64) int {
	if v <= 0 || s.stops[4] == 0 {
		return 0
	}
	lv := math.Log10(float64(v) + 1)
	for i := len(s.stops) - 1; i > 0; i-- {
		if lv >= s.stops[i] {
			return i
		}
	}
	return 0
}

// RenderRanking writes the top countries by metric as a table, each row
// tagged with its shade on the log scale. top <= 0 renders every country.
func RenderRanking(w io.Writer, data []CountryData, m Metric, top int) error {
	ranked := Rank(data, m)

	values := make([]int64, len(ranked))
	for i, d := range ranked {
		values[i] = d.Value(m)
	}
	scale := NewScale(values)

	if top > 0 && top < len(ranked) {
		ranked = ranked[:top]
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "#\tCountry\t%s\tShade\tLast update\t\n", m)
	for i, d := range ranked {
		shade := Shades[scale.Bucket(d.Value(m))]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s %s\t%s\t\n",
			i+1, d.CountryRegion, humanize.Comma(d.Value(m)),
			strings.Repeat(shade.Symbol, 3), shade.Color, d.LastUpdate)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("error writing ranking: %w", err)
	}

	return renderLegend(w, values, m)
}

func renderLegend(w io.Writer, values []int64, m Metric) error {
	var peak int64
	for _, v := range values {
		peak = max(peak, v)
	}
	if peak == 0 {
		return nil
	}

	scale := NewScale(values)
	steps := []float64{0, 0.01, 0.1, 0.3, 1}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s (log scale):", m)
	for i, f := range steps {
		v := int64(math.Round(float64(peak) * f))
		label := humanize.Comma(v)
		if i == len(steps)-1 {
			label += "+"
		}
		fmt.Fprintf(&b, "  %s %s", Shades[scale.Bucket(v)].Symbol, label)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("error writing legend: %w", err)
	}
	return nil
}

const treemapWidth = 40

// RenderTreemap writes each of the top countries' share of the metric
// total as a proportional bar. Countries past top are folded into "Other".
func RenderTreemap(w io.Writer, data []CountryData, m Metric, top int) error {
	ranked := Rank(data, m)

	var total int64
	for _, d := range ranked {
		total += d.Value(m)
	}
	if total == 0 {
		_, err := fmt.Fprintf(w, "no %s cases reported\n", strings.ToLower(string(m)))
		return err
	}

	type tile struct {
		name  string
		value int64
	}
	var tiles []tile
	var other int64
	for i, d := range ranked {
		if top > 0 && i >= top {
			other += d.Value(m)
			continue
		}
		tiles = append(tiles, tile{name: d.CountryRegion, value: d.Value(m)})
	}
	if other > 0 {
		tiles = append(tiles, tile{name: "Other", value: other})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Country\tShare\t%s\t\n", m)
	for _, t := range tiles {
		share := float64(t.value) / float64(total)
		bar := strings.Repeat("█", int(math.Round(share*treemapWidth)))
		fmt.Fprintf(tw, "%s\t%5.1f%%\t%s\t%s\n", t.name, share*100, humanize.Comma(t.value), bar)
	}
	fmt.Fprintf(tw, "Total\t100.0%%\t%s\t\n", humanize.Comma(total))

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("error writing treemap: %w", err)
	}
	return nil
}
