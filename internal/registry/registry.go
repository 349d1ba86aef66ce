// Package registry holds the static city registry: coordinates, timezone,
// resolution unit, and the authoritative stations each venue settles
// against. Some cities resolve against different airports on the two
// venues; the observer must never cross-contaminate those.
package registry

import (
	"fmt"
	"time"

	"github.com/nmoreira/weatheredge/pkg/types"
)

// City describes one tradeable city.
type City struct {
	Key         string
	Name        string
	Lat         float64
	Lon         float64
	Timezone    string
	Unit        types.Unit
	CountryCode string
	// Stations maps venue to the ICAO station its markets resolve against.
	Stations map[types.Venue]string
	// ResolutionSource names the primary observation source per venue:
	// "wu" for the narrative venue, "metar" (NWS CLI chain) for the
	// structured one.
	ResolutionSource map[types.Venue]string

	loc *time.Location
}

// Location returns the city's time.Location, panicking on an unknown zone.
// Registry entries are validated at startup so this cannot fire later.
func (c *City) Location() *time.Location {
	if c.loc == nil {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			panic(fmt.Sprintf("registry: bad timezone %q for %s", c.Timezone, c.Key))
		}
		c.loc = loc
	}
	return c.loc
}

// Station returns the authoritative station for a venue.
func (c *City) Station(v types.Venue) string {
	return c.Stations[v]
}

// DualStation reports whether the two venues resolve against different
// airports.
func (c *City) DualStation() bool {
	return c.Stations[types.VenuePolymarket] != c.Stations[types.VenueKalshi]
}

// LocalHour returns the city-local hour for t.
func (c *City) LocalHour(t time.Time) int {
	return t.In(c.Location()).Hour()
}

// LocalDate returns the city-local ISO date for t.
func (c *City) LocalDate(t time.Time) string {
	return t.In(c.Location()).Format("2006-01-02")
}

// Registry is the set of enabled cities.
type Registry struct {
	cities map[string]*City
	order  []string
}

// New builds a registry from the given cities, validating timezones.
func New(cities []*City) (*Registry, error) {
	r := &Registry{cities: make(map[string]*City, len(cities))}
	for _, c := range cities {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return nil, fmt.Errorf("%w: city %s timezone %q: %v", types.ErrConfig, c.Key, c.Timezone, err)
		}
		if len(c.Stations) == 0 {
			return nil, fmt.Errorf("%w: city %s has no stations", types.ErrConfig, c.Key)
		}
		if _, dup := r.cities[c.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate city %s", types.ErrConfig, c.Key)
		}
		r.cities[c.Key] = c
		r.order = append(r.order, c.Key)
	}
	return r, nil
}

// Get returns a city by key.
func (r *Registry) Get(key string) (*City, bool) {
	c, ok := r.cities[key]
	return c, ok
}

// All returns cities in registration order.
func (r *Registry) All() []*City {
	out := make([]*City, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.cities[k])
	}
	return out
}

// AllStations returns the deduplicated station set across venues and cities.
func (r *Registry) AllStations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range r.order {
		for _, s := range r.cities[k].Stations {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Default returns the registry of currently listed temperature markets.
func Default() (*Registry, error) {
	return New([]*City{
		newCity("nyc", "New York", 40.78, -73.97, "America/New_York", "KNYC", "KNYC"),
		newCity("lax", "Los Angeles", 33.94, -118.41, "America/Los_Angeles", "KLAX", "KLAX"),
		newCity("chi", "Chicago", 41.96, -87.93, "America/Chicago", "KMDW", "KORD"),
		newCity("mia", "Miami", 25.79, -80.32, "America/New_York", "KMIA", "KMIA"),
		newCity("aus", "Austin", 30.18, -97.68, "America/Chicago", "KAUS", "KAUS"),
		newCity("phl", "Philadelphia", 39.87, -75.23, "America/New_York", "KPHL", "KPHL"),
		newCity("den", "Denver", 39.85, -104.66, "America/Denver", "KDEN", "KDEN"),
	})
}

func newCity(key, name string, lat, lon float64, tz, pmStation, kalshiStation string) *City {
	return &City{
		Key:         key,
		Name:        name,
		Lat:         lat,
		Lon:         lon,
		Timezone:    tz,
		Unit:        types.UnitF,
		CountryCode: "US",
		Stations: map[types.Venue]string{
			types.VenuePolymarket: pmStation,
			types.VenueKalshi:     kalshiStation,
		},
		ResolutionSource: map[types.Venue]string{
			types.VenuePolymarket: "wu",
			types.VenueKalshi:     "metar",
		},
	}
}
