package query

import "strings"

type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeDate
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDate:
		return "date"
	default:
		return "unknown"
	}
}

type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Entity is the schema of a queryable collection. Key is the field used as
// the ordering tiebreaker; PageSize caps the rows returned per request.
type Entity struct {
	Name     string
	Fields   []Field
	Key      string
	PageSize int
}

// Field looks up a field by name. Matching is case-sensitive, as in the
// JSON payload.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// MaxTop is the largest $top any collection accepts.
const MaxTop = 1000

func placeFields(lat, long bool) []Field {
	return []Field{
		{Name: "Id", Type: TypeString},
		{Name: "ProvinceState", Type: TypeString, Nullable: true},
		{Name: "CountryRegion", Type: TypeString},
		{Name: "Lat", Type: TypeFloat, Nullable: lat},
		{Name: "Long", Type: TypeFloat, Nullable: long},
		{Name: "Date", Type: TypeDate},
	}
}

func seriesEntity(name, metric string) *Entity {
	return &Entity{
		Name:     name,
		Fields:   append(placeFields(true, true), Field{Name: metric, Type: TypeInt}),
		Key:      "Id",
		PageSize: 100,
	}
}

func metricFields() []Field {
	return []Field{
		{Name: "Confirmed", Type: TypeInt},
		{Name: "Deaths", Type: TypeInt},
		{Name: "Recovered", Type: TypeInt},
	}
}

var (
	CovidConfirmed = seriesEntity("CovidConfirmed", "Confirmed")
	CovidDeath     = seriesEntity("CovidDeath", "Deaths")
	CovidRecover   = seriesEntity("CovidRecover", "Recovered")

	CovidData = &Entity{
		Name:     "CovidData",
		Fields:   append(placeFields(false, false), metricFields()...),
		Key:      "Id",
		PageSize: 10000,
	}

	CovidDataPoints = &Entity{
		Name:     "CovidDataPoints",
		Fields:   append(placeFields(true, true), metricFields()...),
		Key:      "Id",
		PageSize: 1000,
	}
)

// Entities lists every collection in the order they are advertised.
var Entities = []*Entity{CovidConfirmed, CovidDeath, CovidRecover, CovidData, CovidDataPoints}

// Lookup finds an entity by name, ignoring case.
func Lookup(name string) (*Entity, bool) {
	for _, e := range Entities {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return nil, false
}
