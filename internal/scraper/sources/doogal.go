package sources

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alisufyan143/location-analyzer-v2/internal/failure"
	"github.com/alisufyan143/location-analyzer-v2/internal/postcode"
	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// DefaultDoogalBaseURL is the Doogal postcode map page.
const DefaultDoogalBaseURL = "https://www.doogal.co.uk/ShowMap"

const incomeLabel = "average household income"

var pageIncomePattern = regexp.MustCompile(`(?is)average\s+household\s+income.*?£\s*([\d,]+)`)

// Doogal scrapes the average household income estimate from doogal.co.uk.
type Doogal struct {
	fetcher  scraper.Fetcher
	detector *scraper.BlockDetector
	baseURL  string
}

// NewDoogal builds a Doogal agent. An empty baseURL uses the public site.
func NewDoogal(fetcher scraper.Fetcher, baseURL string) *Doogal {
	if baseURL == "" {
		baseURL = DefaultDoogalBaseURL
	}
	return &Doogal{
		fetcher:  fetcher,
		detector: scraper.NewBlockDetector(nil, nil),
		baseURL:  baseURL,
	}
}

// Name implements scraper.Agent.
func (d *Doogal) Name() string { return "doogal" }

// Fetch implements scraper.Agent.
func (d *Doogal) Fetch(ctx context.Context, pc postcode.Postcode, id scraper.Identity) (scraper.Page, error) {
	target := d.baseURL + "?postcode=" + url.QueryEscape(pc.String())
	doc, err := fetchDocument(ctx, d.fetcher, "showmap", target, id)
	if err != nil {
		return scraper.Page{}, err
	}
	return scraper.Page{Documents: []scraper.Document{doc}}, nil
}

// LooksBlocked implements scraper.Agent.
func (d *Doogal) LooksBlocked(page scraper.Page) bool {
	return d.detector.Blocked(page)
}

// Parse reads the income from the statistics table, then falls back to the
// first £ amount following the label anywhere on the page.
func (d *Doogal) Parse(page scraper.Page) (scraper.Attributes, error) {
	const op = "doogal.parse"
	raw, ok := page.Doc("showmap")
	if !ok {
		return nil, failure.New(failure.ScraperParsingFailure, op, "page missing")
	}
	if err := requireOK(op, raw); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, failure.Wrap(failure.ScraperParsingFailure, op, err)
	}

	if income, ok := doogalTableIncome(doc); ok {
		return scraper.Attributes{"avg_household_income": income}, nil
	}
	if m := pageIncomePattern.FindStringSubmatch(doc.Text()); m != nil {
		if income, ok := parsePounds("£" + m[1]); ok {
			return scraper.Attributes{"avg_household_income": income}, nil
		}
	}
	return nil, failure.New(failure.ScraperParsingFailure, op, "household income not found")
}

func doogalTableIncome(doc *goquery.Document) (int, bool) {
	var (
		income int
		found  bool
	)
	doc.Find("th, td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(cell.Text()), incomeLabel) {
			return true
		}
		value := cell.NextFiltered("td")
		if value.Length() == 0 {
			return true
		}
		if show := value.Find("span.show"); show.Length() > 0 {
			if income, found = parsePounds(show.First().Text()); found {
				return false
			}
		}
		income, found = parsePounds(value.Text())
		return !found
	})
	return income, found
}
