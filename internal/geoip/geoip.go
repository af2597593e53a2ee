// Package geoip resolves visitor IPs to a country and region for
// interaction enrichment.
package geoip

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP looks up locations in a MaxMind City/Country database, or in a JSON
// list of CIDR ranges when no database is available.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []cidrLocation
}

// Location is the resolved place for an IP. Empty fields mean unknown.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
}

type cidrLocation struct {
	net *net.IPNet
	loc Location
}

// Init opens the database at path. A file that is not a MaxMind database
// is parsed as a JSON fallback of {"net","country","region"} entries.
func Init(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: reader}, nil
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
	}
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	g := &GeoIP{}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, cidrLocation{net: n, loc: Location{Country: e.Country, Region: e.Region}})
		}
	}
	return g, nil
}

// Lookup resolves ip. A nil GeoIP or an unknown address yields an empty Location.
func (g *GeoIP) Lookup(ip net.IP) Location {
	if g == nil || ip == nil {
		return Location{}
	}
	if g.db != nil {
		if rec, err := g.db.City(ip); err == nil {
			loc := Location{Country: rec.Country.IsoCode}
			if len(rec.Subdivisions) > 0 {
				loc.Region = rec.Subdivisions[0].IsoCode
			}
			return loc
		}
		if rec, err := g.db.Country(ip); err == nil {
			return Location{Country: rec.Country.IsoCode}
		}
	}
	for _, c := range g.fallback {
		if c.net.Contains(ip) {
			return c.loc
		}
	}
	return Location{}
}

// Country returns the ISO country code for ip, or "".
func (g *GeoIP) Country(ip net.IP) string { return g.Lookup(ip).Country }

// Region returns the subdivision code for ip, or "".
func (g *GeoIP) Region(ip net.IP) string { return g.Lookup(ip).Region }

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
