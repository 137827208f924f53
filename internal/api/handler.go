package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-covid19-stats/internal/events"
	"github.com/mr1hm/go-covid19-stats/internal/ingestion"
	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/query"
	"github.com/mr1hm/go-covid19-stats/internal/repository"
)

// StatsService is the read side used by the HTTP handlers.
type StatsService interface {
	List(ctx context.Context, entity *query.Entity, opts *query.Options, limit int) (*repository.Page, error)
	USDailyReport(ctx context.Context, date civil.Date) (models.DailyReport, bool, error)
	Snapshots(ctx context.Context) ([]models.Snapshot, error)
}

type Handler struct {
	svc         StatsService
	broadcaster *events.Broadcaster
}

func NewHandler(svc StatsService, broadcaster *events.Broadcaster) *Handler {
	return &Handler{
		svc:         svc,
		broadcaster: broadcaster,
	}
}

// RegisterRoutes mounts every collection under /odata and, for the older
// controller paths, under /api.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	for _, prefix := range []string{"/odata", "/api"} {
		g := r.Group(prefix)
		for _, entity := range query.Entities {
			g.GET("/"+entity.Name, h.listEntity(entity))
		}
		g.GET("/CovidDailyReports", h.getDailyReport)
	}
	r.GET("/odata", h.serviceDocument)
	r.GET("/odata/$metadata", h.metadata)
	r.GET("/api/geojson", h.getGeoJSON)
	r.GET("/api/events", h.streamEvents)
	r.GET("/health", h.health)
}

func (h *Handler) listEntity(entity *query.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := query.Parse(entity, c.Request.URL.Query())
		if err != nil {
			h.writeError(c, err)
			return
		}

		limit := opts.Limit(entity)
		page, err := h.svc.List(c.Request.Context(), entity, opts, limit)
		if err != nil {
			h.writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, newCollection(c, entity, opts, limit, page))
	}
}

func (h *Handler) getDailyReport(c *gin.Context) {
	date, err := civil.ParseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid date format, expected yyyy-MM-dd",
		})
		return
	}

	report, ok, err := h.svc.USDailyReport(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no daily report for " + date.String(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) health(c *gin.Context) {
	snaps, err := h.svc.Snapshots(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"datasets": snaps,
	})
}

func (h *Handler) streamEvents(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	dataset := c.Query("dataset")

	id, ch, err := h.broadcaster.Subscribe(dataset)
	switch {
	case errors.Is(err, events.ErrUnknownDataset):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream closed"})
		return
	}
	defer h.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to refresh events", "subscriber_id", id, "dataset", dataset)

	// the server write timeout would otherwise cut long-lived streams
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("could not clear write deadline", "subscriber_id", id, "error", err)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			slog.Info("client disconnected from refresh events", "subscriber_id", id)
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("refresh", e)
			c.Writer.Flush()
		}
	}
}

// writeError maps service errors onto HTTP statuses: invalid queries are
// the client's fault, upstream CSV failures are a bad gateway.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		ve *query.ValidationError
		te *ingestion.TransportError
		pe *ingestion.ParseError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &te), errors.As(err, &pe), errors.Is(err, ingestion.ErrNotFound):
		slog.Error("upstream data unavailable", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream data unavailable: " + err.Error()})
	default:
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
