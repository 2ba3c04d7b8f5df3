// Package system provides the wall clock used by scrapers and the forecast
// service.
package system

import (
	"time"
	// Embedded so the UK zone resolves in minimal containers.
	_ "time/tzdata"
)

// Zone is the timezone forecast months are anchored in.
const Zone = "Europe/London"

// Clock reports the current time in a fixed location. Forecast months
// follow the UK calendar, so "now" must too: 00:30 BST on the 1st is
// already the new month while UTC still says the previous one.
type Clock struct {
	loc *time.Location
}

// New returns a Clock in Zone, or UTC if the zone cannot be loaded.
func New() *Clock {
	loc, err := time.LoadLocation(Zone)
	if err != nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location { return c.loc }
