// Package client reads the stats API and reduces it to per-country views.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/mr1hm/go-covid19-stats/internal/models"
)

const (
	DefaultMaxPages = 50
	countryDataPath = "/odata/CovidData"
	dailyReportPath = "/odata/CovidDailyReports"
)

// ErrPageLimit is returned when the API keeps handing out continuation
// links after the configured number of pages.
var ErrPageLimit = errors.New("page limit reached")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// CovidData is one per-country, per-date row of the CovidData entity set.
type CovidData struct {
	ID            string     `json:"Id"`
	ProvinceState *string    `json:"ProvinceState"`
	CountryRegion string     `json:"CountryRegion"`
	Date          civil.Date `json:"Date"`
	Confirmed     int64      `json:"Confirmed"`
	Deaths        int64      `json:"Deaths"`
	Recovered     int64      `json:"Recovered"`
}

type collection struct {
	Value    []CovidData `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type Client struct {
	baseURL   *url.URL
	http      *http.Client
	maxPages  int
	pageDelay time.Duration
	logger    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxPages bounds how many pages CountryData requests.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithPageDelay pauses between page requests.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("error parsing API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API URL must be absolute: %q", baseURL)
	}

	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: time.Minute},
		maxPages: DefaultMaxPages,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CountryData fetches every row of the CovidData entity set, newest first,
// following continuation links until the last page.
func (c *Client) CountryData(ctx context.Context) ([]CovidData, error) {
	next := c.endpoint(countryDataPath, url.Values{"$orderby": {"Date desc"}})

	var all []CovidData
	for page := 0; next != ""; page++ {
		if page == c.maxPages {
			return nil, fmt.Errorf("error fetching country data after %d pages: %w", page, ErrPageLimit)
		}
		if page > 0 && c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}

		var coll collection
		if err := c.getJSON(ctx, next, &coll); err != nil {
			return nil, fmt.Errorf("error fetching country data: %w", err)
		}
		all = append(all, coll.Value...)
		c.logger.Debug("fetched page", "page", page+1, "rows", len(coll.Value), "total", len(all))

		link, err := c.resolve(coll.NextLink)
		if err != nil {
			return nil, err
		}
		next = link
	}

	c.logger.Info("fetched country data", "rows", len(all))
	return all, nil
}

// DailyReport fetches the US summary for date. ok is false when the API
// has no report for that day.
func (c *Client) DailyReport(ctx context.Context, date civil.Date) (models.DailyReport, bool, error) {
	var report models.DailyReport

	err := c.getJSON(ctx, c.endpoint(dailyReportPath, url.Values{"date": {date.String()}}), &report)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return models.DailyReport{}, false, nil
		}
		return models.DailyReport{}, false, fmt.Errorf("error fetching daily report: %w", err)
	}
	return report, true, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = params.Encode()
	return u.String()
}

// resolve turns a continuation link into an absolute URL. Relative links
// are taken against the API base.
func (c *Client) resolve(link string) (string, error) {
	if link == "" {
		return "", nil
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("error parsing next link %q: %w", link, err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error requesting %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: target, StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding %s: %w", target, err)
	}
	return nil
}

// errorMessage pulls the "error" field out of an API error body.
func errorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}
