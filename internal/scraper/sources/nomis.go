package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// DefaultNomisBaseURL is the Nomis dataset API root.
const DefaultNomisBaseURL = "https://www.nomisweb.co.uk/api/v01/dataset"

// Census 2021 topic summary datasets.
const (
	DatasetPopulation = "NM_2021_1"
	DatasetHouseholds = "NM_2023_1"
	DatasetEthnicity  = "NM_2041_1"
	DatasetNSSEC      = "NM_2079_1"
	DatasetEconomic   = "NM_2083_1"
)

const (
	outputAreaGeography = 150
	// Counts ("Value"); percentages are derived from them.
	valueMeasure        = 20100
)

// NomisScope selects which part of the postcode is resolved.
type NomisScope int

const (
	// ScopeOutputArea resolves the full postcode to its Census output area.
	ScopeOutputArea NomisScope = iota
	// ScopeOutcode resolves only the outward code, aggregating its areas.
	ScopeOutcode
)

// NomisConfig configures a Nomis agent.
type NomisConfig struct {
	BaseURL string
	Scope   NomisScope
}

// Nomis reads Census 2021 counts from the Nomis CSV API.
type Nomis struct {
	fetcher  scraper.Fetcher
	detector *scraper.BlockDetector
	baseURL  string
	scope    NomisScope
}

var nomisDatasets = []string{DatasetPopulation, DatasetHouseholds, DatasetEthnicity, DatasetNSSEC, DatasetEconomic}

// NewNomis builds a Nomis agent.
func NewNomis(fetcher scraper.Fetcher, cfg NomisConfig) *Nomis {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultNomisBaseURL
	}
	return &Nomis{
		fetcher:  fetcher,
		detector: scraper.NewBlockDetector(nil, nil),
		baseURL:  base,
		scope:    cfg.Scope,
	}
}

// Name implements scraper.Agent.
func (n *Nomis) Name() string {
	if n.scope == ScopeOutcode {
		return "nomis-outcode"
	}
	return "nomis"
}

// DatasetURL returns the CSV URL for dataset and pc.
func (n *Nomis) DatasetURL(dataset string, pc postcode.Postcode) string {
	area := pc.String()
	if n.scope == ScopeOutcode {
		area = pc.Outward()
	}
	return fmt.Sprintf("%s/%s.data.csv?geography=POSTCODE|%s;%d&measures=%d",
		n.baseURL, dataset, strings.ReplaceAll(area, " ", "+"), outputAreaGeography, valueMeasure)
}

// Fetch downloads every dataset. The population request runs first so an
// unknown postcode costs one call.
func (n *Nomis) Fetch(ctx context.Context, pc postcode.Postcode, id scraper.Identity) (scraper.Page, error) {
	var page scraper.Page
	for i, ds := range nomisDatasets {
		doc, err := fetchDocument(ctx, n.fetcher, ds, n.DatasetURL(ds, pc), id)
		if err != nil {
			return scraper.Page{}, err
		}
		page.Documents = append(page.Documents, doc)
		if i == 0 && (requireOK(n.Name(), doc) != nil || n.detector.DocumentBlocked(doc)) {
			break
		}
	}
	return page, nil
}

// LooksBlocked implements scraper.Agent.
func (n *Nomis) LooksBlocked(page scraper.Page) bool {
	return n.detector.Blocked(page)
}

// Parse turns the dataset CSVs into demographic attributes. Population is
// mandatory; any other dataset that is absent or unreadable leaves its
// fields nil.
func (n *Nomis) Parse(page scraper.Page) (scraper.Attributes, error) {
	op := n.Name() + ".parse"
	popDoc, ok := page.Doc(DatasetPopulation)
	if !ok {
		return nil, failure.New(failure.ScraperParsingFailure, op, "population dataset missing")
	}
	if err := requireOK(op, popDoc); err != nil {
		return nil, err
	}
	pop, err := readNomisTable(popDoc.Body)
	if err != nil {
		return nil, failure.Wrap(failure.ScraperParsingFailure, op, err)
	}
	total := pop.total()
	if total <= 0 {
		return nil, failure.New(failure.ScraperParsingFailure, op, "no population for area")
	}

	attrs := scraper.Attributes{
		"population":        total,
		"households":        nil,
		"white":             nil,
		"non_white":         nil,
		"working":           nil,
		"unemployed":        nil,
		"unemployment_rate": nil,
		"ab":                nil,
		"c1_c2":             nil,
		"de":                nil,
	}

	if t := optionalTable(page, DatasetHouseholds); t != nil {
		if hh := t.total(); hh > 0 {
			attrs["households"] = hh
		}
	}
	if t := optionalTable(page, DatasetEthnicity); t != nil {
		if col := t.nameColumn("C2021_ETH"); col >= 0 {
			all := t.total()
			white := t.sumWhere(col, func(label string) bool { return label == "White" })
			if all > 0 {
				attrs["white"] = pct(white, all)
				attrs["non_white"] = pct(all-white, all)
			}
		}
	}
	if t := optionalTable(page, DatasetEconomic); t != nil {
		if col := t.nameColumn("C2021_EASTAT"); col >= 0 {
			all := t.total()
			employed := t.sumWhere(col, economicStatus(":In employment"))
			unemployed := t.sumWhere(col, economicStatus(":Unemployed"))
			if all > 0 {
				attrs["working"] = pct(employed, all)
				attrs["unemployed"] = pct(unemployed, all)
				attrs["unemployment_rate"] = pct(unemployed, all)
			}
		}
	}
	if t := optionalTable(page, DatasetNSSEC); t != nil {
		if col := t.nameColumn("C2021_NSSEC"); col >= 0 {
			all := t.total()
			var ab, c1c2, de int
			for _, row := range t.rows[1:] {
				switch socialGrade(row.label(col)) {
				case "ab":
					ab += row.value
				case "c1_c2":
					c1c2 += row.value
				case "de":
					de += row.value
				}
			}
			if all > 0 {
				attrs["ab"] = pct(ab, all)
				attrs["c1_c2"] = pct(c1c2, all)
				attrs["de"] = pct(de, all)
			}
		}
	}
	return attrs, nil
}

// economicStatus matches the top-level in-employment or unemployed rows of
// both student and non-student groups, ignoring their sub-breakdowns.
func economicStatus(suffix string) func(string) bool {
	return func(label string) bool {
		label = strings.ReplaceAll(label, ": ", ":")
		return strings.HasPrefix(label, "Economically active") && strings.HasSuffix(label, suffix)
	}
}

// socialGrade folds NS-SeC analytic classes into AB, C1/C2 and DE.
func socialGrade(label string) string {
	switch {
	case strings.Contains(label, "L1, L2 and L3"), strings.Contains(label, "L4, L5 and L6"):
		return "ab"
	case strings.Contains(label, "L7 "), strings.Contains(label, "L8 and L9"), strings.Contains(label, "L10 and L11"):
		return "c1_c2"
	case strings.Contains(label, "L12 "), strings.Contains(label, "L13 "), strings.Contains(label, "L14"):
		return "de"
	default:
		return ""
	}
}

type nomisRow struct {
	fields []string
	value  int
}

func (r nomisRow) label(col int) string {
	if col < 0 || col >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[col])
}

type nomisTable struct {
	header []string
	rows   []nomisRow
}

func optionalTable(page scraper.Page, dataset string) *nomisTable {
	doc, ok := page.Doc(dataset)
	if !ok || requireOK(dataset, doc) != nil {
		return nil
	}
	t, err := readNomisTable(doc.Body)
	if err != nil {
		return nil
	}
	return t
}

var errNoRows = errors.New("nomis csv has no data rows")

func readNomisTable(body []byte) (*nomisTable, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimSpace(body)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNoRows
		}
		return nil, fmt.Errorf("read nomis header: %w", err)
	}
	valueCol := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == "OBS_VALUE" {
			valueCol = i
			break
		}
	}
	if valueCol < 0 {
		return nil, errors.New("nomis csv has no OBS_VALUE column")
	}

	t := &nomisTable{header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read nomis row: %w", err)
		}
		row := nomisRow{fields: rec}
		if valueCol < len(rec) {
			row.value, _ = strconv.Atoi(strings.TrimSpace(rec[valueCol]))
		}
		t.rows = append(t.rows, row)
	}
	if len(t.rows) == 0 {
		return nil, errNoRows
	}
	return t, nil
}

// total is the first row, which Nomis always emits as the category total.
func (t *nomisTable) total() int {
	return t.rows[0].value
}

// nameColumn finds the label column for a classification; its exact name
// varies with the classification size (C2021_ETH_20_NAME, C2021_ETH_8_NAME).
func (t *nomisTable) nameColumn(prefix string) int {
	for i, h := range t.header {
		if strings.HasPrefix(h, prefix) && strings.HasSuffix(h, "_NAME") {
			return i
		}
	}
	return -1
}

func (t *nomisTable) sumWhere(col int, match func(string) bool) int {
	sum := 0
	for _, row := range t.rows[1:] {
		if match(row.label(col)) {
			sum += row.value
		}
	}
	return sum
}
