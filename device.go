package authcore

import (
	"strings"

	"github.com/mileusna/useragent"
)

// DeviceInfo is the best-effort device description parsed from a
// User-Agent header. All fields may be empty.
type DeviceInfo struct {
	Name           string
	Type           string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
}

func parseUserAgent(raw string) DeviceInfo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DeviceInfo{}
	}

	ua := useragent.Parse(raw)

	info := DeviceInfo{
		Name:           ua.Device,
		Type:           deviceType(ua),
		Browser:        ua.Name,
		BrowserVersion: ua.Version,
		OS:             ua.OS,
		OSVersion:      ua.OSVersion,
	}
	if info.Name == "" {
		info.Name = ua.OS
	}

	return info
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}
