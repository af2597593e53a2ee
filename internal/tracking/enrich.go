package tracking

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/openpersonalize/internal/geoip"
	"github.com/patrickwarner/openpersonalize/internal/models"
)

// Device is what a User-Agent string tells us about the visitor's client.
type Device struct {
	Type    string
	OS      string
	Browser string
	IsBot   bool
}

// DeviceFromUA parses a raw User-Agent string.
func DeviceFromUA(ua string) Device {
	u := uasurfer.Parse(ua)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	v := u.OS.Version
	os := fmt.Sprintf("%s %s %d.%d.%d", u.OS.Platform.String(), u.OS.Name.String(), v.Major, v.Minor, v.Patch)
	bv := u.Browser.Version
	browser := fmt.Sprintf("%s %d.%d.%d", u.Browser.Name.String(), bv.Major, bv.Minor, bv.Patch)

	return Device{Type: deviceType, OS: os, Browser: browser, IsBot: u.IsBot()}
}

// ClientIP returns the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Enrich fills device and location fields of ev from the client's
// User-Agent and IP. Fields already set by the caller are kept.
func Enrich(ev *models.InteractionEvent, g *geoip.GeoIP, ua, ip string) {
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	if ua != "" {
		d := DeviceFromUA(ua)
		if ev.DeviceType == "" {
			ev.DeviceType = d.Type
		}
		ev.Metadata["os"] = d.OS
		ev.Metadata["browser"] = d.Browser
		if d.IsBot {
			ev.Metadata["bot"] = "true"
		}
	}
	loc := g.Lookup(net.ParseIP(ip))
	if ev.Country == "" {
		ev.Country = loc.Country
	}
	if loc.Region != "" {
		ev.Metadata["region"] = loc.Region
	}
}
