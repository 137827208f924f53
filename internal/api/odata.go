package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-covid19-stats/internal/query"
	"github.com/mr1hm/go-covid19-stats/internal/repository"
)

// Collection is the OData JSON envelope for an entity set.
type Collection struct {
	Context  string           `json:"@odata.context"`
	Count    *int64           `json:"@odata.count,omitempty"`
	Value    []repository.Row `json:"value"`
	NextLink string           `json:"@odata.nextLink,omitempty"`
}

func newCollection(c *gin.Context, entity *query.Entity, opts *query.Options, limit int, page *repository.Page) Collection {
	base := baseURL(c)

	contextURL := base + "/odata/$metadata#" + entity.Name
	if len(opts.Select) > 0 {
		contextURL += "(" + strings.Join(opts.Select, ",") + ")"
	}

	rows := page.Rows
	if rows == nil {
		rows = []repository.Row{}
	}

	coll := Collection{
		Context: contextURL,
		Count:   page.Count,
		Value:   rows,
	}

	// $top bounds the whole result, so stop paging once it is used up
	if page.HasMore && (opts.Top == nil || *opts.Top > limit) {
		params := c.Request.URL.Query()
		params.Set("$skip", strconv.Itoa(opts.Skip+limit))
		if opts.Top != nil {
			params.Set("$top", strconv.Itoa(*opts.Top-limit))
		}
		coll.NextLink = base + c.Request.URL.Path + "?" + params.Encode()
	}

	return coll
}

type entitySet struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

func (h *Handler) serviceDocument(c *gin.Context) {
	sets := make([]entitySet, 0, len(query.Entities)+1)
	for _, e := range query.Entities {
		sets = append(sets, entitySet{Name: e.Name, Kind: "EntitySet", URL: e.Name})
	}
	sets = append(sets, entitySet{Name: "CovidDailyReports", Kind: "FunctionImport", URL: "CovidDailyReports"})

	c.JSON(http.StatusOK, gin.H{
		"@odata.context": baseURL(c) + "/odata/$metadata",
		"value":          sets,
	})
}

// baseURL is the externally visible scheme and host of the request.
func baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

type propertyDoc struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type entityTypeDoc struct {
	Name       string        `json:"name"`
	Key        string        `json:"key"`
	PageSize   int           `json:"pageSize"`
	MaxTop     int           `json:"maxTop"`
	Properties []propertyDoc `json:"properties"`
}

type functionDoc struct {
	Name       string        `json:"name"`
	Parameters []propertyDoc `json:"parameters"`
	ReturnType string        `json:"returnType"`
}

var edmTypes = map[query.FieldType]string{
	query.TypeString: "Edm.String",
	query.TypeInt:    "Edm.Int64",
	query.TypeFloat:  "Edm.Double",
	query.TypeDate:   "Edm.Date",
}

// metadata describes every entity set and the daily report function so
// clients can discover field names and types.
func (h *Handler) metadata(c *gin.Context) {
	types := make([]entityTypeDoc, 0, len(query.Entities))
	for _, e := range query.Entities {
		props := make([]propertyDoc, len(e.Fields))
		for i, f := range e.Fields {
			props[i] = propertyDoc{Name: f.Name, Type: edmTypes[f.Type], Nullable: f.Nullable}
		}
		types = append(types, entityTypeDoc{
			Name:       e.Name,
			Key:        e.Key,
			PageSize:   e.PageSize,
			MaxTop:     query.MaxTop,
			Properties: props,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"@odata.context": baseURL(c) + "/odata/$metadata",
		"entityTypes":    types,
		"functions": []functionDoc{{
			Name:       "CovidDailyReports",
			Parameters: []propertyDoc{{Name: "date", Type: edmTypes[query.TypeDate]}},
			ReturnType: "DailyReport",
		}},
	})
}
