package sources

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// DefaultCrystalRoofBaseURL is the CrystalRoof postcode report root.
const DefaultCrystalRoofBaseURL = "https://crystalroof.co.uk/report/postcode"

// Station types reported for the nearest station.
const (
	StationUnderground = "Underground"
	StationOverground  = "Overground"
	StationTrain       = "Train"
)

var (
	transportScorePattern = regexp.MustCompile(`(\d)\s*/\s*9`)
	milesPattern          = regexp.MustCompile(`([\d.]+)\s*miles?`)

	undergroundKeywords = []string{
		"underground", "tube", "metropolitan", "central", "northern", "piccadilly", "jubilee",
		"victoria", "circle", "district", "hammersmith", "bakerloo", "elizabeth",
	}
	overgroundKeywords = []string{"overground", "dlr", "tram"}
)

// Station is one entry of the CrystalRoof nearby-stations list. Distance is
// only meaningful when HasDistance is set.
type Station struct {
	Name        string
	Distance    float64
	HasDistance bool
	Type        string
	Lines       []string
}

func crystalRoofURL(base string, pc postcode.Postcode, section string) string {
	if base == "" {
		base = DefaultCrystalRoofBaseURL
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), pc.Compact(), section)
}

func notFoundReport(body []byte) bool {
	return bytes.Contains(body, []byte("No report found"))
}

// CrystalRoofTransport reads the transport accessibility report. The same
// parser serves the rendered (headless) and static variants; only the
// fetcher differs.
type CrystalRoofTransport struct {
	name     string
	fetcher  scraper.Fetcher
	detector *scraper.BlockDetector
	baseURL  string
}

// NewCrystalRoofTransport builds a transport agent named name.
func NewCrystalRoofTransport(name string, fetcher scraper.Fetcher, baseURL string) *CrystalRoofTransport {
	return &CrystalRoofTransport{
		name:     name,
		fetcher:  fetcher,
		detector: scraper.NewBlockDetector(nil, nil),
		baseURL:  baseURL,
	}
}

// Name implements scraper.Agent.
func (c *CrystalRoofTransport) Name() string { return c.name }

// Fetch implements scraper.Agent.
func (c *CrystalRoofTransport) Fetch(ctx context.Context, pc postcode.Postcode, id scraper.Identity) (scraper.Page, error) {
	doc, err := fetchDocument(ctx, c.fetcher, "transport", crystalRoofURL(c.baseURL, pc, "transport"), id)
	if err != nil {
		return scraper.Page{}, err
	}
	return scraper.Page{Documents: []scraper.Document{doc}}, nil
}

// LooksBlocked implements scraper.Agent.
func (c *CrystalRoofTransport) LooksBlocked(page scraper.Page) bool {
	return c.detector.Blocked(page)
}

// Parse implements scraper.Agent. A page with neither a score nor a station
// list did not render and is reported as a parsing failure.
func (c *CrystalRoofTransport) Parse(page scraper.Page) (scraper.Attributes, error) {
	op := c.name + ".parse"
	raw, ok := page.Doc("transport")
	if !ok {
		return nil, failure.New(failure.ScraperParsingFailure, op, "page missing")
	}
	if err := requireOK(op, raw); err != nil {
		return nil, err
	}
	if notFoundReport(raw.Body) {
		return nil, failure.New(failure.ScraperParsingFailure, op, "no report for postcode")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, failure.Wrap(failure.ScraperParsingFailure, op, err)
	}

	score, hasScore := transportScore(doc)
	stations := parseStations(doc)
	if !hasScore && len(stations) == 0 {
		return nil, failure.New(failure.ScraperParsingFailure, op, "transport report not rendered")
	}

	attrs := scraper.Attributes{
		"transport_score":           nil,
		"distance_to_nearest_miles": nil,
		"nearest_station_type":      nil,
		"nearby_station_count":      len(stations),
	}
	if hasScore {
		attrs["transport_score"] = score
	}
	if len(stations) > 0 && stations[0].HasDistance {
		attrs["distance_to_nearest_miles"] = stations[0].Distance
		attrs["nearest_station_type"] = stations[0].Type
	}
	return attrs, nil
}

func transportScore(doc *goquery.Document) (int, bool) {
	candidates := doc.Find("[data-transport-score], div[class*='Ez_A'], div[class*='Br_C']")
	texts := make([]string, 0, candidates.Length()+1)
	candidates.Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, s.Text())
	})
	texts = append(texts, doc.Find("body").Text())
	for _, text := range texts {
		if m := transportScorePattern.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// parseStations returns the listed stations ordered by distance. Stations
// whose distance could not be read sort last.
func parseStations(doc *goquery.Document) []Station {
	var stations []Station
	doc.Find(`ul[data-transport-stations-list="true"] li`).Each(func(_ int, item *goquery.Selection) {
		p := item.Find("p").First()
		if p.Length() == 0 {
			return
		}
		full := collapseSpace(p.Text())
		var distText string
		p.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if milesPattern.MatchString(s.Text()) {
				distText = collapseSpace(s.Text())
				return false
			}
			return true
		})
		if distText == "" {
			distText = full
		}
		var (
			dist  float64
			known bool
		)
		if m := milesPattern.FindStringSubmatch(distText); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				dist, known = v, true
			}
		}

		var lines []string
		item.Find("span").Each(func(_ int, s *goquery.Selection) {
			text := collapseSpace(s.Text())
			if text != "" && !strings.Contains(strings.ToLower(text), "mile") {
				lines = append(lines, text)
			}
		})

		stations = append(stations, Station{
			Name:        strings.TrimSpace(strings.Replace(full, distText, "", 1)),
			Distance:    dist,
			HasDistance: known,
			Type:        StationType(lines),
			Lines:       lines,
		})
	})
	slices.SortStableFunc(stations, func(a, b Station) int {
		switch {
		case a.HasDistance != b.HasDistance:
			if a.HasDistance {
				return -1
			}
			return 1
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return 0
		}
	})
	return stations
}

// StationType classifies a station from the lines serving it.
func StationType(lines []string) string {
	joined := strings.ToLower(strings.Join(lines, " "))
	for _, kw := range undergroundKeywords {
		if strings.Contains(joined, kw) {
			return StationUnderground
		}
	}
	for _, kw := range overgroundKeywords {
		if strings.Contains(joined, kw) {
			return StationOverground
		}
	}
	return StationTrain
}

// CrystalRoofAffluence reads the household income tile of the affluence report.
type CrystalRoofAffluence struct {
	fetcher  scraper.Fetcher
	detector *scraper.BlockDetector
	baseURL  string
}

// NewCrystalRoofAffluence builds the affluence agent.
func NewCrystalRoofAffluence(fetcher scraper.Fetcher, baseURL string) *CrystalRoofAffluence {
	return &CrystalRoofAffluence{
		fetcher:  fetcher,
		detector: scraper.NewBlockDetector(nil, nil),
		baseURL:  baseURL,
	}
}

// Name implements scraper.Agent.
func (c *CrystalRoofAffluence) Name() string { return "crystalroof-affluence" }

// Fetch implements scraper.Agent.
func (c *CrystalRoofAffluence) Fetch(ctx context.Context, pc postcode.Postcode, id scraper.Identity) (scraper.Page, error) {
	doc, err := fetchDocument(ctx, c.fetcher, "affluence", crystalRoofURL(c.baseURL, pc, "affluence"), id)
	if err != nil {
		return scraper.Page{}, err
	}
	return scraper.Page{Documents: []scraper.Document{doc}}, nil
}

// LooksBlocked implements scraper.Agent.
func (c *CrystalRoofAffluence) LooksBlocked(page scraper.Page) bool {
	return c.detector.Blocked(page)
}

// Parse implements scraper.Agent.
func (c *CrystalRoofAffluence) Parse(page scraper.Page) (scraper.Attributes, error) {
	const op = "crystalroof-affluence.parse"
	raw, ok := page.Doc("affluence")
	if !ok {
		return nil, failure.New(failure.ScraperParsingFailure, op, "page missing")
	}
	if err := requireOK(op, raw); err != nil {
		return nil, err
	}
	if notFoundReport(raw.Body) {
		return nil, failure.New(failure.ScraperParsingFailure, op, "no report for postcode")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, failure.Wrap(failure.ScraperParsingFailure, op, err)
	}

	for _, sel := range []string{`p[data-tile-value="true"]`, `span[class*='Ck_A'], span[class*='headlineNumber']`} {
		var (
			income int
			found  bool
		)
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			income, found = parsePounds(s.Text())
			return !found
		})
		if found {
			return scraper.Attributes{"income_pa": income}, nil
		}
	}
	return nil, failure.New(failure.ScraperParsingFailure, op, "income tile not found")
}
