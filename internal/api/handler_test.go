package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-covid19-stats/internal/config"
	"github.com/mr1hm/go-covid19-stats/internal/events"
	"github.com/mr1hm/go-covid19-stats/internal/ingestion"
	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/query"
	"github.com/mr1hm/go-covid19-stats/internal/repository"
)

// mockService serves queries from a real in-memory store.
type mockService struct {
	db        *repository.SQLiteDB
	listErr   error
	report    models.DailyReport
	reportOK  bool
	reportErr error
	lastDate  civil.Date
}

func (m *mockService) List(ctx context.Context, entity *query.Entity, opts *query.Options, limit int) (*repository.Page, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.db.List(ctx, entity, opts, limit)
}

func (m *mockService) USDailyReport(ctx context.Context, date civil.Date) (models.DailyReport, bool, error) {
	m.lastDate = date
	return m.report, m.reportOK, m.reportErr
}

func (m *mockService) Snapshots(ctx context.Context) ([]models.Snapshot, error) {
	return m.db.Snapshots(ctx)
}

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }

func testPoints(n int) []models.DataPoint {
	points := []models.DataPoint{
		{ID: "p-ca", ProvinceState: strPtr("CA"), CountryRegion: "US", Lat: floatPtr(36.77), Long: floatPtr(-119.41),
			Date: civil.Date{Year: 2021, Month: time.January, Day: 1}, Confirmed: 100, Deaths: 5, Recovered: 0},
		{ID: "p-fr", CountryRegion: "France", Date: civil.Date{Year: 2021, Month: time.January, Day: 1}, Confirmed: 10},
	}
	for i := 0; i < n; i++ {
		points = append(points, models.DataPoint{
			ID:            fmt.Sprintf("p-%04d", i),
			CountryRegion: "Peru",
			Date:          civil.Date{Year: 2020, Month: time.March, Day: 1}.AddDays(i),
			Confirmed:     int64(i),
		})
	}
	return points
}

func setupTestRouter(t *testing.T, points []models.DataPoint) (*gin.Engine, *mockService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	summaries := []models.CountrySummary{
		{ID: "s-us", CountryRegion: "US", Date: civil.Date{Year: 2021, Month: time.January, Day: 1}, Confirmed: 100, Deaths: 5},
	}
	require.NoError(t, db.ReplaceCombined(context.Background(), points, summaries, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)))

	svc := &mockService{db: db}
	router := gin.New()
	NewHandler(svc, events.NewBroadcaster()).RegisterRoutes(router)
	return router, svc
}

func get(router http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	router.ServeHTTP(w, req)
	return w
}

type pointCollection struct {
	Context  string             `json:"@odata.context"`
	Count    *int64             `json:"@odata.count"`
	Value    []models.DataPoint `json:"value"`
	NextLink string             `json:"@odata.nextLink"`
}

func TestListEntity_RoundTripsDataPoints(t *testing.T) {
	points := testPoints(0)
	router, _ := setupTestRouter(t, points)

	w := get(router, "/odata/CovidDataPoints?$orderby=Confirmed%20desc")
	require.Equal(t, http.StatusOK, w.Code)

	var coll pointCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	require.Equal(t, "http://example.com/odata/$metadata#CovidDataPoints", coll.Context)
	require.Nil(t, coll.Count)
	require.Empty(t, coll.NextLink)
	require.Equal(t, points, coll.Value)

	// integers stay integers on the wire
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(envelope["value"], &raw))
	require.Equal(t, "100", string(raw[0]["Confirmed"]))
	require.Equal(t, "null", string(raw[1]["ProvinceState"]))
	require.Equal(t, `"2021-01-01"`, string(raw[1]["Date"]))
}

func TestListEntity_FilterAndCount(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	w := get(router, "/api/CovidDataPoints?"+url.Values{
		"$filter": {"CountryRegion eq 'France'"},
		"$count":  {"true"},
	}.Encode())
	require.Equal(t, http.StatusOK, w.Code)

	var coll pointCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	require.NotNil(t, coll.Count)
	require.Equal(t, int64(1), *coll.Count)
	require.Len(t, coll.Value, 1)
	require.Equal(t, "p-fr", coll.Value[0].ID)
}

func TestListEntity_NextLink(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(1500))

	w := get(router, "/odata/CovidDataPoints")
	require.Equal(t, http.StatusOK, w.Code)

	var coll pointCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	require.Len(t, coll.Value, query.CovidDataPoints.PageSize)
	require.NotEmpty(t, coll.NextLink)

	next, err := url.Parse(coll.NextLink)
	require.NoError(t, err)
	require.Equal(t, "1000", next.Query().Get("$skip"))

	w = get(router, next.RequestURI())
	require.Equal(t, http.StatusOK, w.Code)
	coll = pointCollection{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	require.Len(t, coll.Value, 502)
	require.Empty(t, coll.NextLink)
}

func TestListEntity_TopStopsPaging(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(20))

	w := get(router, "/odata/CovidDataPoints?$top=5")
	var coll pointCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	require.Len(t, coll.Value, 5)
	require.Empty(t, coll.NextLink)
}

func TestListEntity_Select(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	w := get(router, "/odata/CovidData?$select=CountryRegion,Confirmed")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Context string           `json:"@odata.context"`
		Value   []map[string]any `json:"value"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, strings.HasSuffix(body.Context, "#CovidData(CountryRegion,Confirmed)"))
	require.Equal(t, []map[string]any{{"CountryRegion": "US", "Confirmed": float64(100)}}, body.Value)
}

func TestListEntity_ValidationErrors(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	for _, target := range []string{
		"/odata/CovidData?$filter=" + url.QueryEscape("Population gt 5"),
		"/odata/CovidData?$top=5000",
		"/odata/CovidData?$expand=Country",
		"/odata/CovidConfirmed?$orderby=Deaths",
		"/odata/CovidData?$apply=groupby",
	} {
		w := get(router, target)
		require.Equal(t, http.StatusBadRequest, w.Code, target)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotEmpty(t, body["error"])
	}
}

func TestListEntity_UpstreamFailure(t *testing.T) {
	router, svc := setupTestRouter(t, testPoints(0))

	svc.listErr = fmt.Errorf("error refreshing deaths: %w", &ingestion.TransportError{URL: "https://example.com/deaths.csv", StatusCode: 503, Err: errors.New("unavailable")})
	require.Equal(t, http.StatusBadGateway, get(router, "/odata/CovidDeath").Code)

	svc.listErr = &ingestion.ParseError{Line: 1, Column: 5, Err: errors.New("invalid date header")}
	require.Equal(t, http.StatusBadGateway, get(router, "/odata/CovidDeath").Code)

	svc.listErr = errors.New("disk on fire")
	w := get(router, "/odata/CovidDeath")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "disk on fire")
}

func TestDailyReport(t *testing.T) {
	router, svc := setupTestRouter(t, testPoints(0))

	svc.report = models.DailyReport{UID: 840, CountryRegion: "US", Confirmed: 1500, Deaths: 15, CaseFatalityRatio: 1.0, ISO3: "USA"}
	svc.reportOK = true

	w := get(router, "/odata/CovidDailyReports?date=2021-03-01")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, civil.Date{Year: 2021, Month: time.March, Day: 1}, svc.lastDate)

	var report models.DailyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Equal(t, svc.report, report)

	require.Equal(t, http.StatusBadRequest, get(router, "/odata/CovidDailyReports?date=03-01-2021").Code)
	require.Equal(t, http.StatusBadRequest, get(router, "/odata/CovidDailyReports").Code)

	svc.reportOK = false
	require.Equal(t, http.StatusNotFound, get(router, "/api/CovidDailyReports?date=2019-01-01").Code)

	svc.reportErr = &ingestion.TransportError{URL: "x", Err: errors.New("connection reset")}
	require.Equal(t, http.StatusBadGateway, get(router, "/odata/CovidDailyReports?date=2021-03-01").Code)
}

func TestHealth(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string            `json:"status"`
		Datasets []models.Snapshot `json:"datasets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Len(t, body.Datasets, 1)
	require.Equal(t, models.DatasetCombined, body.Datasets[0].Dataset)
	require.Equal(t, 2, body.Datasets[0].Rows)
}

func TestServiceDocument(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	w := get(router, "/odata")
	require.Equal(t, http.StatusOK, w.Code)
	for _, e := range query.Entities {
		require.Contains(t, w.Body.String(), `"name":"`+e.Name+`"`)
	}
}

func TestStreamEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broadcaster := events.NewBroadcaster()
	router := gin.New()
	NewHandler(&mockService{}, broadcaster).RegisterRoutes(router)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events?dataset=combined", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	broadcaster.Broadcast(&models.RefreshEvent{Dataset: models.DatasetDeaths, Rows: 1})
	broadcaster.Broadcast(&models.RefreshEvent{Dataset: models.DatasetCombined, Rows: 42})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	require.Contains(t, body, "event:refresh")
	require.Contains(t, body, `"rows":42`)
	require.NotContains(t, body, `"dataset":"deaths"`)
	require.Equal(t, 0, broadcaster.SubscriberCount())
}

func TestStreamEvents_ReplaysLatestAndRejectsUnknownDataset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broadcaster := events.NewBroadcaster()
	broadcaster.Broadcast(&models.RefreshEvent{Dataset: models.DatasetRecovered, Rows: 9})
	router := gin.New()
	NewHandler(&mockService{}, broadcaster).RegisterRoutes(router)

	w := get(router, "/api/events?dataset=vaccinations")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unknown dataset")
	require.Equal(t, 0, broadcaster.SubscriberCount())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events?dataset=recovered", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.Contains(t, rec.Body.String(), `"rows":9`)
}

func TestStreamEvents_OutlivesWriteTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broadcaster := events.NewBroadcaster()
	router := gin.New()
	NewHandler(&mockService{}, broadcaster).RegisterRoutes(router)

	srv := httptest.NewUnstartedServer(router)
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	time.Sleep(300 * time.Millisecond)
	broadcaster.Broadcast(&models.RefreshEvent{Dataset: models.DatasetCombined, Rows: 7})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before the event arrived")
			if strings.Contains(line, `"rows":7`) {
				cancel()
				for range lines {
				}
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for the event")
		}
	}
}

func TestGeoJSON(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	w := get(router, "/api/geojson")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	require.Equal(t, "FeatureCollection", fc.Type)

	// France has no coordinates
	require.Len(t, fc.Features, 1)
	f := fc.Features[0]
	require.Equal(t, "Point", f.Geometry.Type)
	require.Equal(t, []float64{-119.41, 36.77}, f.Geometry.Coordinates)
	require.Equal(t, "p-ca", f.Properties["Id"])
	require.Equal(t, "CA", f.Properties["ProvinceState"])
	require.Equal(t, "2021-01-01", f.Properties["Date"])
	require.EqualValues(t, 100, f.Properties["Confirmed"])
	require.EqualValues(t, 5, f.Properties["Deaths"])
	require.EqualValues(t, 0, f.Properties["Recovered"])
	require.NotContains(t, f.Properties, "Lat")

	w = get(router, "/api/geojson?"+url.Values{"$filter": {"CountryRegion eq 'France'"}}.Encode())
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"features":[]`)

	w = get(router, "/api/geojson?$filter=Nope%20eq%201")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetadata(t *testing.T) {
	router, _ := setupTestRouter(t, testPoints(0))

	w := get(router, "/odata/$metadata")
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		EntityTypes []struct {
			Name       string `json:"name"`
			Key        string `json:"key"`
			PageSize   int    `json:"pageSize"`
			Properties []struct {
				Name     string `json:"name"`
				Type     string `json:"type"`
				Nullable bool   `json:"nullable"`
			} `json:"properties"`
		} `json:"entityTypes"`
		Functions []struct {
			Name string `json:"name"`
		} `json:"functions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.EntityTypes, len(query.Entities))
	for i, e := range query.Entities {
		got := doc.EntityTypes[i]
		require.Equal(t, e.Name, got.Name)
		require.Equal(t, e.Key, got.Key)
		require.Equal(t, e.PageSize, got.PageSize)
		require.Len(t, got.Properties, len(e.Fields))
		for j, f := range e.Fields {
			require.Equal(t, f.Name, got.Properties[j].Name)
			require.Equal(t, f.Nullable, got.Properties[j].Nullable)
			require.NotEmpty(t, got.Properties[j].Type)
		}
	}
	require.Equal(t, "CovidDailyReports", doc.Functions[0].Name)

	// every @odata.context resolves
	w = get(router, "/odata/CovidDataPoints")
	var coll pointCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coll))
	contextURL, err := url.Parse(coll.Context)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, get(router, contextURL.Path).Code)
}

func TestRouter_StaticFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('hi')"), 0o600))

	cfg := config.ServerConfig{AllowOrigins: []string{"*"}, StaticDir: dir}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(cfg, NewHandler(&mockService{}, nil), logger)

	w := get(router, "/app.js")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "console.log")

	w = get(router, "/charts/treemap")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "app")

	w = get(router, "/odata/Nope")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "not found")

	w = get(router, "/../../etc/passwd")
	require.NotContains(t, w.Body.String(), "root:")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(2))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, get(router, "/ping").Code)
	}
	require.Equal(t, []int{200, 200, 429, 429}, codes)

	open := gin.New()
	open.Use(RateLimitMiddleware(0))
	open.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, get(open, "/ping").Code)
	}
}
