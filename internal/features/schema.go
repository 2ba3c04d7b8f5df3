// Package features turns merged scrape attributes into the canonical base
// record the preprocessing engine consumes, and defines the ordered feature
// vector handed to the model.
package features

import "time"

// Kind is the value type of a canonical field.
type Kind int

// Field kinds.
const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "numeric"
}

// Canonical field names.
const (
	Population       = "population"
	Households       = "households"
	White            = "white"
	NonWhite         = "non-white"
	Working          = "working"
	Unemployed       = "unemployed"
	UnemploymentRate = "unemployment_rate"
	AB               = "ab"
	C1C2             = "c1/c2"
	DE               = "de"
	HouseholdIncome  = "avg_household_income"
	StationDistance  = "Distance_to_Nearest_Station"
	StationCount     = "Nearby_Station_Count"
	TransportScore   = "Transport_Accessibility_Score"
	StationType      = "Nearest_Station_Type"
)

// Time fields derived from the forecast month rather than scraped.
const (
	Year      = "Year"
	Month     = "Month"
	Dayofweek = "Dayofweek"
	IsWeekend = "Is_Weekend"
)

// BranchNameKey is the display key echoing the request's branch name.
const BranchNameKey = "Branch Name"

const milesPerKilometre = 0.621371

// Alias is a raw attribute name that feeds a canonical field, scaled by
// Factor.
type Alias struct {
	Name   string
	Factor float64
}

// Field describes one canonical field. Percent fields also accept
// "<alias>_fraction" attributes, scaled by 100.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Percent  bool
	Aliases  []Alias
}

// candidates lists every raw attribute name accepted for the field, in
// lookup order.
func (f Field) candidates() []Alias {
	names := append([]Alias{{Name: f.Name, Factor: 1}}, f.Aliases...)
	if !f.Percent {
		return names
	}
	out := make([]Alias, 0, 2*len(names))
	out = append(out, names...)
	for _, a := range names {
		out = append(out, Alias{Name: a.Name + "_fraction", Factor: a.Factor * 100})
	}
	return out
}

var canonical = []Field{
	{Name: Population, Kind: Numeric, Required: true},
	{Name: Households, Kind: Numeric},
	{Name: White, Kind: Numeric, Percent: true},
	{Name: NonWhite, Kind: Numeric, Percent: true, Aliases: []Alias{{Name: "non_white", Factor: 1}}},
	{Name: Working, Kind: Numeric, Percent: true},
	{Name: Unemployed, Kind: Numeric, Percent: true},
	{Name: UnemploymentRate, Kind: Numeric, Percent: true},
	{Name: AB, Kind: Numeric, Percent: true},
	{Name: C1C2, Kind: Numeric, Percent: true, Aliases: []Alias{{Name: "c1_c2", Factor: 1}}},
	{Name: DE, Kind: Numeric, Percent: true},
	{Name: HouseholdIncome, Kind: Numeric, Aliases: []Alias{{Name: "income_pa", Factor: 1}}},
	{Name: StationDistance, Kind: Numeric, Aliases: []Alias{
		{Name: "distance_to_nearest_miles", Factor: 1},
		{Name: "distance_to_nearest_km", Factor: milesPerKilometre},
	}},
	{Name: StationCount, Kind: Numeric, Aliases: []Alias{{Name: "nearby_station_count", Factor: 1}}},
	{Name: TransportScore, Kind: Categorical, Aliases: []Alias{{Name: "transport_score", Factor: 1}}},
	{Name: StationType, Kind: Categorical, Aliases: []Alias{{Name: "nearest_station_type", Factor: 1}}},
}

var canonicalIndex = func() map[string]int {
	idx := make(map[string]int, len(canonical))
	for i, f := range canonical {
		idx[f.Name] = i
	}
	return idx
}()

// Fields returns the canonical schema in declaration order.
func Fields() []Field {
	return append([]Field(nil), canonical...)
}

func lookup(name string) (Field, bool) {
	i, ok := canonicalIndex[name]
	if !ok {
		return Field{}, false
	}
	return canonical[i], true
}

// TimeFields returns the month-derived field names.
func TimeFields() []string {
	return []string{Year, Month, Dayofweek, IsWeekend}
}

// TimeValues returns the month-derived fields for t. Dayofweek counts from
// Monday = 0.
func TimeValues(t time.Time) map[string]float64 {
	dow := (int(t.Weekday()) + 6) % 7
	weekend := 0.0
	if dow >= 5 {
		weekend = 1
	}
	return map[string]float64{
		Year:      float64(t.Year()),
		Month:     float64(t.Month()),
		Dayofweek: float64(dow),
		IsWeekend: weekend,
	}
}
