package enrich

import (
	"strings"

	"github.com/mssola/useragent"
)

type Device struct {
	Type    string `json:"type"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

func ParseDevice(userAgent string) Device {
	d := Device{Type: DeviceDesktop, Browser: Unknown, OS: Unknown}
	if strings.TrimSpace(userAgent) == "" {
		return d
	}

	ua := useragent.New(userAgent)
	lower := strings.ToLower(userAgent)

	switch {
	case ua.Bot():
		d.Type = DeviceBot
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		d.Type = DeviceTablet
	case ua.Mobile():
		d.Type = DeviceMobile
	}

	if name, _ := ua.Browser(); name != "" {
		d.Browser = name
	}
	if name := ua.OSInfo().Name; name != "" {
		d.OS = name
	}
	return d
}
