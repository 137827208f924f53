package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-covid19-stats/internal/client"
	"github.com/mr1hm/go-covid19-stats/internal/logging"
)

type options struct {
	api       string
	metric    string
	top       int
	daily     string
	view      string
	maxPages  int
	pageDelay time.Duration
	timeout   time.Duration
	logLevel  string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.api, "api", envOr("COVID19_API_URL", "http://localhost:8080"), "base URL of the stats API")
	flag.StringVar(&opts.metric, "metric", "confirmed", "metric to rank by: confirmed, deaths or recovered")
	flag.IntVar(&opts.top, "top", 20, "number of countries to show, 0 for all")
	flag.StringVar(&opts.daily, "daily", "", "[optional] print the US daily report for this date (yyyy-MM-dd) instead")
	flag.StringVar(&opts.view, "view", "both", "ranking, treemap or both")
	flag.IntVar(&opts.maxPages, "max-pages", client.DefaultMaxPages, "maximum number of pages to fetch")
	flag.DurationVar(&opts.pageDelay, "page-delay", 100*time.Millisecond, "pause between page requests")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	flag.Parse()

	// stdout carries the report
	slog.SetDefault(logging.New(os.Stderr, opts.logLevel, "covid19-report"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		logging.Fatalf("covid19-report: %v", err)
	}
}

func run(ctx context.Context, opts options, w io.Writer) error {
	c, err := client.New(opts.api,
		client.WithMaxPages(opts.maxPages),
		client.WithPageDelay(opts.pageDelay),
	)
	if err != nil {
		return err
	}

	if opts.daily != "" {
		date, err := civil.ParseDate(opts.daily)
		if err != nil {
			return fmt.Errorf("invalid -daily date %q, expected yyyy-MM-dd", opts.daily)
		}
		return printDaily(ctx, c, date, w)
	}

	metric, err := client.ParseMetric(opts.metric)
	if err != nil {
		return err
	}

	rows, err := c.CountryData(ctx)
	if err != nil {
		return err
	}
	data := client.LatestByCountry(rows)
	slog.Info("reduced to latest per country", "rows", len(rows), "countries", len(data))

	switch strings.ToLower(opts.view) {
	case "ranking":
		return client.RenderRanking(w, data, metric, opts.top)
	case "treemap":
		return client.RenderTreemap(w, data, metric, opts.top)
	case "both":
		if err := client.RenderRanking(w, data, metric, opts.top); err != nil {
			return err
		}
		fmt.Fprintln(w)
		return client.RenderTreemap(w, data, metric, opts.top)
	default:
		return fmt.Errorf("unknown view %q", opts.view)
	}
}

func printDaily(ctx context.Context, c *client.Client, date civil.Date, w io.Writer) error {
	report, ok, err := c.DailyReport(ctx, date)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "No US daily report for %s\n", date)
		return nil
	}

	fmt.Fprintf(w, "US daily report for %s (last update %s)\n", date, report.LastUpdate.Format(time.RFC3339))
	fmt.Fprintf(w, "  Confirmed:  %s\n", humanize.Comma(report.Confirmed))
	fmt.Fprintf(w, "  Deaths:     %s\n", humanize.Comma(report.Deaths))
	fmt.Fprintf(w, "  Recovered:  %s\n", humanize.Comma(report.Recovered))
	fmt.Fprintf(w, "  Active:     %s\n", humanize.Comma(report.Active))
	fmt.Fprintf(w, "  Fatality:   %.2f%%\n", report.CaseFatalityRatio)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
