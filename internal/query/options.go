// Package query parses OData-style query options into a typed model that
// is validated against an entity schema before anything touches storage.
package query

import (
	"net/url"
	"strconv"
	"strings"
)

type OrderBy struct {
	Field Field
	Desc  bool
}

// Options is a validated set of query options for one entity.
type Options struct {
	Filter  Expr // nil when absent
	OrderBy []OrderBy
	Top     *int
	Skip    int
	Select  []string // nil selects every field
	Count   bool
}

// Limit returns the number of rows to serve for this request: $top capped
// by the entity page size.
func (o *Options) Limit(entity *Entity) int {
	limit := entity.PageSize
	if o.Top != nil && *o.Top < limit {
		limit = *o.Top
	}
	return limit
}

// Parse validates the $-prefixed parameters of values for entity.
// Parameters without a $ prefix are ignored.
func Parse(entity *Entity, values url.Values) (*Options, error) {
	opts := &Options{}

	for key, vals := range values {
		if !strings.HasPrefix(key, "$") {
			continue
		}
		if len(vals) > 1 {
			return nil, invalid(key, "specified more than once")
		}
		val := strings.TrimSpace(vals[0])

		var err error
		switch key {
		case "$filter":
			if val != "" {
				opts.Filter, err = ParseFilter(entity, val)
			}
		case "$orderby":
			opts.OrderBy, err = parseOrderBy(entity, val)
		case "$top":
			var top int
			top, err = parseNonNegative(key, val)
			if err == nil && top > MaxTop {
				err = invalid(key, "limit of %d exceeded", MaxTop)
			}
			opts.Top = &top
		case "$skip":
			opts.Skip, err = parseNonNegative(key, val)
		case "$select":
			opts.Select, err = parseSelect(entity, val)
		case "$count":
			opts.Count, err = parseBool(key, val)
		case "$expand":
			if val != "" {
				err = invalid(key, "%s has no navigation properties", entity.Name)
			}
		default:
			err = invalid(key, "unsupported query option")
		}
		if err != nil {
			return nil, err
		}
	}

	return opts, nil
}

func parseOrderBy(entity *Entity, val string) ([]OrderBy, error) {
	if val == "" {
		return nil, nil
	}
	var out []OrderBy
	for _, clause := range strings.Split(val, ",") {
		parts := strings.Fields(clause)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, invalid("$orderby", "malformed clause %q", strings.TrimSpace(clause))
		}
		f, ok := entity.Field(parts[0])
		if !ok {
			return nil, invalid("$orderby", "unknown field %q on %s", parts[0], entity.Name)
		}
		ob := OrderBy{Field: f}
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "asc":
			case "desc":
				ob.Desc = true
			default:
				return nil, invalid("$orderby", "unknown direction %q", parts[1])
			}
		}
		out = append(out, ob)
	}
	return out, nil
}

func parseSelect(entity *Entity, val string) ([]string, error) {
	if val == "" || val == "*" {
		return nil, nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, name := range strings.Split(val, ",") {
		name = strings.TrimSpace(name)
		if name == "*" {
			return nil, nil
		}
		if _, ok := entity.Field(name); !ok {
			return nil, invalid("$select", "unknown field %q on %s", name, entity.Name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func parseNonNegative(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, invalid(key, "expected a non-negative integer, got %q", val)
	}
	return n, nil
}

func parseBool(key, val string) (bool, error) {
	switch val {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, invalid(key, "expected true or false, got %q", val)
	}
}
