package enricher

import (
	"net"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/transformer"
)

// Client describes where a request came from
type Client struct {
	Browser        string
	BrowserVersion string
	OS             string
	DeviceType     string
	Country        string
	City           string
}

type Enricher struct {
	geoIP *geoip2.Reader
}

// NewEnricher creates an enricher. GeoIP lookups are skipped when the
// database path is empty or cannot be opened.
func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		reader, err := geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable")
		} else {
			geoIP = reader
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// Lookup resolves the user agent and client IP
func (e *Enricher) Lookup(userAgentString, clientIP string) Client {
	var c Client

	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		c.Browser, c.BrowserVersion = ua.Browser()
		c.OS = ua.OS()
		c.DeviceType = getDeviceType(ua)
	}

	if e.geoIP != nil && clientIP != "" {
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}
		if ip := net.ParseIP(clientIP); ip != nil {
			record, err := e.geoIP.City(ip)
			if err == nil {
				c.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					c.City = name
				}
			}
		}
	}

	return c
}

// Enrich returns a copy of payload carrying the client fields. Values the
// caller already set win.
func (e *Enricher) Enrich(payload map[string]interface{}, userAgentString, clientIP string) map[string]interface{} {
	c := e.Lookup(userAgentString, clientIP)

	out := make(map[string]interface{}, len(payload)+5)
	setIfPresent(out, transformer.KeyBrowser, c.Browser)
	setIfPresent(out, transformer.KeyOS, c.OS)
	setIfPresent(out, transformer.KeyDeviceType, c.DeviceType)
	setIfPresent(out, transformer.KeyCountry, c.Country)
	setIfPresent(out, transformer.KeyCity, c.City)
	for k, v := range payload {
		out[k] = v
	}
	return out
}

func setIfPresent(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}
