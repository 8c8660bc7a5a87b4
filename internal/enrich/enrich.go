// Package enrich attaches geo and device metadata to a visit. Every lookup
// degrades to defaults; nothing here can fail a request.
package enrich

import (
	"context"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

const (
	Unknown       = "Unknown"
	LocalCountry  = "Localhost"
	LocalCity     = "Local Machine"
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

type Enrichment struct {
	Location Location `json:"location"`
	Device   Device   `json:"device"`
}

// CityReader is satisfied by *geoip2.Reader.
type CityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

type Enricher struct {
	mmdb CityReader
	api  *APIClient
	log  *logrus.Entry
}

func NewEnricher(logger *logrus.Logger, mmdb CityReader, api *APIClient) *Enricher {
	return &Enricher{
		mmdb: mmdb,
		api:  api,
		log:  logger.WithField("component", "enricher"),
	}
}

// OpenMMDB opens a MaxMind City database. An empty path disables it.
func OpenMMDB(path string) (*geoip2.Reader, error) {
	if path == "" {
		return nil, nil
	}
	return geoip2.Open(path)
}

func (e *Enricher) Enrich(ctx context.Context, ip, userAgent string) Enrichment {
	return Enrichment{
		Location: e.Locate(ctx, ip),
		Device:   ParseDevice(userAgent),
	}
}

func (e *Enricher) Locate(ctx context.Context, ip string) Location {
	if isLocal(ip) {
		return Location{Country: LocalCountry, City: LocalCity}
	}

	loc := Location{Country: Unknown, City: Unknown}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return loc
	}

	if e.mmdb != nil {
		record, err := e.mmdb.City(parsed)
		if err != nil {
			e.log.WithError(err).WithField("ip", ip).Debug("MMDB lookup failed")
		} else if record != nil {
			if name := record.Country.Names["en"]; name != "" {
				loc.Country = name
			}
			if name := record.City.Names["en"]; name != "" {
				loc.City = name
			}
			if loc.Country != Unknown {
				return loc
			}
		}
	}

	if e.api != nil {
		if found, ok := e.api.Lookup(ctx, ip); ok {
			if found.Country != "" {
				loc.Country = found.Country
			}
			if found.City != "" {
				loc.City = found.City
			}
		}
	}
	return loc
}

func isLocal(ip string) bool {
	ip = strings.TrimSpace(strings.ToLower(ip))
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
