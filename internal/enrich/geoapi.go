package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ammario/tlru"
	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"
)

const (
	geoCacheTTL     = 24 * time.Hour
	geoCacheMaxSize = 10000
)

type APIConfig struct {
	// URL may contain a %s placeholder for the IP; otherwise the IP is
	// appended as a path segment.
	URL     string
	Key     string
	Timeout time.Duration
	// CacheSize bounds the number of cached IPs; the least recently used
	// entry goes first.
	CacheSize int
}

// APIClient resolves IPs through an HTTP geo service (ipinfo, ip-api and
// compatible JSON shapes). Results, including misses, are cached.
type APIClient struct {
	cfg        APIConfig
	httpClient *http.Client
	log        *logrus.Entry
	cache      *tlru.Cache[string, geoEntry]
}

type geoEntry struct {
	loc Location
	ok  bool
}

type loggingTransport struct {
	log   *logrus.Entry
	clock quartz.Clock
}

func NewAPIClient(logger *logrus.Logger, clock quartz.Clock, cfg APIConfig) *APIClient {
	if cfg.URL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = geoCacheMaxSize
	}
	return &APIClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &loggingTransport{log: logger.WithField("component", "geoapi_transport"), clock: clock},
		},
		log:   logger.WithField("component", "geoapi_client"),
		cache: tlru.New[string](tlru.ConstantCost[geoEntry], cfg.CacheSize),
	}
}

func (c *APIClient) Lookup(ctx context.Context, ip string) (Location, bool) {
	if entry, _, ok := c.cache.Get(ip); ok {
		return entry.loc, entry.ok
	}

	loc, err := c.fetch(ctx, ip)
	if err != nil {
		c.log.WithError(err).WithField("ip", ip).Warn("Geo API lookup failed")
	}

	c.cache.Set(ip, geoEntry{loc: loc, ok: err == nil}, geoCacheTTL)

	return loc, err == nil
}

func (c *APIClient) fetch(ctx context.Context, ip string) (Location, error) {
	url := c.cfg.URL
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, ip)
	} else {
		url = strings.TrimRight(url, "/") + "/" + ip
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "VisitorBeacon/1.0")
	if c.cfg.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo api returned status %d", resp.StatusCode)
	}

	var body struct {
		Country     string `json:"country"`
		CountryName string `json:"country_name"`
		City        string `json:"city"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode geo api response: %w", err)
	}

	loc := Location{Country: body.CountryName, City: body.City}
	if loc.Country == "" {
		loc.Country = body.Country
	}
	return loc, nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := t.clock.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    t.clock.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
