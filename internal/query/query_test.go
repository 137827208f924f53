package query

import (
	"net/url"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
)

func TestParseFilter_Comparison(t *testing.T) {
	e, err := ParseFilter(CovidData, "CountryRegion eq 'US'")
	require.NoError(t, err)

	cmp, ok := e.(Comparison)
	require.True(t, ok)
	require.Equal(t, "CountryRegion", cmp.Field.Name)
	require.Equal(t, OpEq, cmp.Op)
	require.Equal(t, Literal{Kind: LitString, Value: "US"}, cmp.Value)
}

func TestParseFilter_Precedence(t *testing.T) {
	e, err := ParseFilter(CovidData, "Confirmed gt 10 or Deaths gt 1 and not (Recovered eq 0)")
	require.NoError(t, err)

	or, ok := e.(Logical)
	require.True(t, ok)
	require.Equal(t, OpOr, or.Op)

	and, ok := or.Right.(Logical)
	require.True(t, ok)
	require.Equal(t, OpAnd, and.Op)

	_, ok = and.Right.(Not)
	require.True(t, ok)
}

func TestParseFilter_Literals(t *testing.T) {
	tests := []struct {
		name   string
		entity *Entity
		input  string
		want   Literal
	}{
		{"date", CovidData, "Date ge 2021-01-01", Literal{Kind: LitDate, Value: civil.Date{Year: 2021, Month: time.January, Day: 1}}},
		{"datetime", CovidData, "Date lt 2021-01-02T10:00:00Z", Literal{Kind: LitDate, Value: civil.Date{Year: 2021, Month: time.January, Day: 2}}},
		{"escaped quote", CovidData, "CountryRegion eq 'Cote d''Ivoire'", Literal{Kind: LitString, Value: "Cote d'Ivoire"}},
		{"negative decimal", CovidConfirmed, "Lat lt -33.5", Literal{Kind: LitFloat, Value: -33.5}},
		{"integer promoted to float", CovidConfirmed, "Long gt 100", Literal{Kind: LitFloat, Value: 100.0}},
		{"integer", CovidDeath, "Deaths ge 1000", Literal{Kind: LitInt, Value: int64(1000)}},
		{"null", CovidConfirmed, "ProvinceState eq null", Literal{Kind: LitNull}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseFilter(tt.entity, tt.input)
			require.NoError(t, err)
			cmp, ok := e.(Comparison)
			require.True(t, ok)
			require.Equal(t, tt.want, cmp.Value)
		})
	}
}

func TestParseFilter_StringMatch(t *testing.T) {
	e, err := ParseFilter(CovidConfirmed, "startswith(CountryRegion, 'United') and contains(ProvinceState,'a')")
	require.NoError(t, err)

	and := e.(Logical)
	left := and.Left.(StringMatch)
	require.Equal(t, FuncStartsWith, left.Func)
	require.Equal(t, "CountryRegion", left.Field.Name)
	require.Equal(t, "United", left.Value)

	right := and.Right.(StringMatch)
	require.Equal(t, FuncContains, right.Func)
}

func TestParseFilter_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown field", "Population gt 5"},
		{"unknown operator", "Confirmed like 5"},
		{"unknown function", "substringof('a', CountryRegion)"},
		{"type mismatch", "Confirmed eq 'many'"},
		{"date mismatch", "Date eq 'yesterday'"},
		{"ordering null", "Confirmed gt null"},
		{"bool literal", "Confirmed eq true"},
		{"function on number", "contains(Confirmed, '1')"},
		{"unterminated string", "CountryRegion eq 'US"},
		{"missing paren", "(Confirmed gt 1"},
		{"trailing tokens", "Confirmed gt 1 Deaths"},
		{"bad character", "Confirmed > 1"},
		{"bad date", "Date eq 2021-13-45"},
		{"empty operand", "Confirmed gt"},
		{"case sensitive field", "confirmed gt 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(CovidData, tt.input)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, "$filter", ve.Field)
		})
	}
}

func TestParse_Options(t *testing.T) {
	values := url.Values{
		"$filter":  {"CountryRegion eq 'US'"},
		"$orderby": {"Date desc, Confirmed"},
		"$top":     {"50"},
		"$skip":    {"100"},
		"$select":  {"CountryRegion, Date,Confirmed"},
		"$count":   {"true"},
		"$expand":  {""},
		"callback": {"ignored"},
	}

	opts, err := Parse(CovidData, values)
	require.NoError(t, err)

	require.NotNil(t, opts.Filter)
	require.Len(t, opts.OrderBy, 2)
	require.Equal(t, "Date", opts.OrderBy[0].Field.Name)
	require.True(t, opts.OrderBy[0].Desc)
	require.False(t, opts.OrderBy[1].Desc)
	require.NotNil(t, opts.Top)
	require.Equal(t, 50, *opts.Top)
	require.Equal(t, 100, opts.Skip)
	require.Equal(t, []string{"CountryRegion", "Date", "Confirmed"}, opts.Select)
	require.True(t, opts.Count)
	require.Equal(t, 50, opts.Limit(CovidData))
}

func TestParse_Defaults(t *testing.T) {
	opts, err := Parse(CovidConfirmed, url.Values{})
	require.NoError(t, err)
	require.Nil(t, opts.Filter)
	require.Nil(t, opts.Top)
	require.Nil(t, opts.Select)
	require.Equal(t, 100, opts.Limit(CovidConfirmed))

	top := 500
	opts.Top = &top
	require.Equal(t, 100, opts.Limit(CovidConfirmed), "page size caps $top")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"top over max", "$top", "1001"},
		{"negative skip", "$skip", "-1"},
		{"top not a number", "$top", "ten"},
		{"count", "$count", "yes"},
		{"orderby field", "$orderby", "Population desc"},
		{"orderby direction", "$orderby", "Date sideways"},
		{"select field", "$select", "Population"},
		{"expand", "$expand", "Country"},
		{"unknown option", "$search", "US"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(CovidData, url.Values{tt.key: {tt.value}})
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tt.key, ve.Field)
		})
	}
}

func TestParse_DuplicateOption(t *testing.T) {
	_, err := Parse(CovidData, url.Values{"$top": {"1", "2"}})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestLookup(t *testing.T) {
	e, ok := Lookup("coviddata")
	require.True(t, ok)
	require.Same(t, CovidData, e)

	_, ok = Lookup("CovidVaccines")
	require.False(t, ok)

	f, ok := CovidDeath.Field("Deaths")
	require.True(t, ok)
	require.Equal(t, TypeInt, f.Type)
	_, ok = CovidDeath.Field("Confirmed")
	require.False(t, ok)
}
