package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mr1hm/go-covid19-stats/internal/config"
	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/worker"
)

// Warmer reloads a named dataset ahead of demand.
type Warmer interface {
	Warm(ctx context.Context, dataset string) error
}

// Manager keeps the cached datasets warm: once on start and then on the
// configured cron schedule.
type Manager struct {
	cfg    *config.Config
	warmer Warmer
	cron   *cron.Cron
	pool   *worker.WorkerPool[string]
}

func NewManager(cfg *config.Config, warmer Warmer) *Manager {
	return &Manager{
		cfg:    cfg,
		warmer: warmer,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	processor := func(ctx context.Context, dataset string) error {
		start := time.Now()
		if err := m.warmer.Warm(ctx, dataset); err != nil {
			return fmt.Errorf("error warming %s: %w", dataset, err)
		}
		slog.Info("dataset warmed", "dataset", dataset, "elapsed", time.Since(start))
		return nil
	}

	m.pool = worker.NewWorkerPool("warm", m.cfg.Worker.Count, m.cfg.Worker.BufferSize, processor)
	m.pool.Start(ctx)

	if !m.cfg.Sources.WarmEnabled {
		slog.Info("scheduled warm-up disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.cfg.Sources.WarmSchedule, m.enqueueAll); err != nil {
		return fmt.Errorf("error scheduling warm-up %q: %w", m.cfg.Sources.WarmSchedule, err)
	}
	m.cron = c
	m.cron.Start()
	slog.Info("scheduled warm-up", "schedule", m.cfg.Sources.WarmSchedule)

	// Initial warm
	m.enqueueAll()

	return nil
}

// Series are queued before the combined dataset so that the combined
// refresh usually finds them fresh.
func (m *Manager) enqueueAll() {
	for _, dataset := range models.Datasets {
		if !m.pool.TrySubmit(dataset) {
			slog.Warn("warm queue full, skipping", "dataset", dataset)
		}
	}
}

func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if m.pool != nil {
		m.pool.Stop()
	}
	slog.Info("ingestion manager stopped")
}
