package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-covid19-stats/internal/query"
	"github.com/mr1hm/go-covid19-stats/internal/repository"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	NextLink string    `json:"nextLink,omitempty"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

var featureProperties = []string{"Id", "CountryRegion", "ProvinceState", "Date", "Confirmed", "Deaths", "Recovered"}

// toGeoJSON turns data point rows into point features. Rows without both
// coordinates have no place on a map and are left out.
func toGeoJSON(rows []repository.Row) FeatureCollection {
	features := make([]Feature, 0, len(rows))

	for _, row := range rows {
		lat, latOK := coordinate(row, "Lat")
		long, longOK := coordinate(row, "Long")
		if !latOK || !longOK {
			continue
		}

		props := make(map[string]any, len(featureProperties))
		for _, name := range featureProperties {
			if v, ok := row.Get(name); ok {
				props[name] = v
			}
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{long, lat},
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}

func coordinate(row repository.Row, name string) (float64, bool) {
	v, ok := row.Get(name)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// getGeoJSON serves CovidDataPoints as a GeoJSON feature collection. It
// accepts the same query options as the collection, except $select.
func (h *Handler) getGeoJSON(c *gin.Context) {
	entity := query.CovidDataPoints

	opts, err := query.Parse(entity, c.Request.URL.Query())
	if err != nil {
		h.writeError(c, err)
		return
	}
	opts.Select = nil

	limit := opts.Limit(entity)
	page, err := h.svc.List(c.Request.Context(), entity, opts, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	fc := toGeoJSON(page.Rows)
	fc.NextLink = newCollection(c, entity, opts, limit, page).NextLink

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}
