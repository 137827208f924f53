// Package stats owns the cached datasets and answers queries against the
// latest snapshot of each.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-covid19-stats/internal/aggregate"
	"github.com/mr1hm/go-covid19-stats/internal/cache"
	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/query"
	"github.com/mr1hm/go-covid19-stats/internal/repository"
)

type SeriesSource interface {
	Load(ctx context.Context) ([]models.SeriesRecord, error)
}

type DailySource interface {
	USSummary(ctx context.Context, date civil.Date) (models.DailyReport, bool, error)
}

type Publisher interface {
	Broadcast(e *models.RefreshEvent)
}

// Sources are the upstream loaders the service reads from.
type Sources struct {
	Confirmed SeriesSource
	Deaths    SeriesSource
	Recovered SeriesSource
	Daily     DailySource
}

// Combined is the joined dataset derived from the three series.
type Combined struct {
	Points    []models.DataPoint
	Summaries []models.CountrySummary
}

type Service struct {
	repo      repository.SnapshotRepository
	daily     DailySource
	publisher Publisher
	now       cache.Clock

	series   map[models.Series]*cache.Cache[[]models.SeriesRecord]
	combined *cache.Cache[Combined]
}

func NewService(repo repository.SnapshotRepository, sources Sources, publisher Publisher, ttl time.Duration, opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		repo:      repo,
		daily:     sources.Daily,
		publisher: publisher,
		now:       o.now,
		series:    make(map[models.Series]*cache.Cache[[]models.SeriesRecord], 3),
	}

	clock := cache.WithClock(o.now)
	for series, src := range map[models.Series]SeriesSource{
		models.SeriesConfirmed: sources.Confirmed,
		models.SeriesDeaths:    sources.Deaths,
		models.SeriesRecovered: sources.Recovered,
	} {
		s.series[series] = cache.New(series.String(), ttl, s.refreshSeries(series, src), clock)
	}
	s.combined = cache.New(models.DatasetCombined, ttl, s.refreshCombined, clock)

	return s
}

type options struct {
	now cache.Clock
}

type Option func(*options)

func WithClock(now cache.Clock) Option {
	return func(o *options) {
		o.now = now
	}
}

func (s *Service) refreshSeries(series models.Series, src SeriesSource) cache.RefreshFunc[[]models.SeriesRecord] {
	return func(ctx context.Context) ([]models.SeriesRecord, error) {
		records, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}

		loadedAt := s.now()
		if err := s.repo.ReplaceSeries(ctx, series, records, loadedAt); err != nil {
			return nil, fmt.Errorf("error storing %s snapshot: %w", series, err)
		}

		// the join is stale once any of its inputs changes
		s.combined.Invalidate()
		s.publish(series.String(), len(records), loadedAt)
		return records, nil
	}
}

func (s *Service) refreshCombined(ctx context.Context) (Combined, error) {
	order := []models.Series{models.SeriesConfirmed, models.SeriesDeaths, models.SeriesRecovered}
	results := make([][]models.SeriesRecord, len(order))

	g, gctx := errgroup.WithContext(ctx)
	for i, series := range order {
		c := s.series[series]
		g.Go(func() error {
			records, err := c.Get(gctx)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Combined{}, err
	}

	points := aggregate.Combine(results[0], results[1], results[2])
	combined := Combined{
		Points:    points,
		Summaries: aggregate.Summarize(points),
	}

	loadedAt := s.now()
	if err := s.repo.ReplaceCombined(ctx, combined.Points, combined.Summaries, loadedAt); err != nil {
		return Combined{}, fmt.Errorf("error storing combined snapshot: %w", err)
	}

	slog.Info("combined dataset rebuilt", "points", len(combined.Points), "summaries", len(combined.Summaries))
	s.publish(models.DatasetCombined, len(combined.Points), loadedAt)
	return combined, nil
}

func (s *Service) publish(dataset string, rows int, loadedAt time.Time) {
	slog.Info("dataset refreshed", "dataset", dataset, "rows", rows)
	if s.publisher != nil {
		s.publisher.Broadcast(&models.RefreshEvent{Dataset: dataset, Rows: rows, LoadedAt: loadedAt})
	}
}

// List answers a validated query against entity, refreshing the backing
// dataset first when it has expired.
func (s *Service) List(ctx context.Context, entity *query.Entity, opts *query.Options, limit int) (*repository.Page, error) {
	if err := s.ensureFresh(ctx, entity); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, entity, opts, limit)
}

func (s *Service) ensureFresh(ctx context.Context, entity *query.Entity) error {
	var err error
	switch entity {
	case query.CovidConfirmed:
		_, err = s.series[models.SeriesConfirmed].Get(ctx)
	case query.CovidDeath:
		_, err = s.series[models.SeriesDeaths].Get(ctx)
	case query.CovidRecover:
		_, err = s.series[models.SeriesRecovered].Get(ctx)
	case query.CovidData, query.CovidDataPoints:
		_, err = s.combined.Get(ctx)
	default:
		return fmt.Errorf("unknown entity: %s", entity.Name)
	}
	return err
}

// USDailyReport is not cached; every call fetches the report for date.
func (s *Service) USDailyReport(ctx context.Context, date civil.Date) (models.DailyReport, bool, error) {
	return s.daily.USSummary(ctx, date)
}

func (s *Service) Snapshots(ctx context.Context) ([]models.Snapshot, error) {
	return s.repo.Snapshots(ctx)
}

// Warm forces a refresh of dataset regardless of its age.
func (s *Service) Warm(ctx context.Context, dataset string) error {
	if dataset == models.DatasetCombined {
		_, err := s.combined.Refresh(ctx)
		return err
	}

	series := models.ParseSeries(dataset)
	c, ok := s.series[series]
	if !ok {
		return fmt.Errorf("unknown dataset: %s", dataset)
	}
	_, err := c.Refresh(ctx)
	return err
}
