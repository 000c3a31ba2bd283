package internal

import (
	"strings"

	"github.com/MrEthical07/clinicauth/session"
)

// DeviceFromUserAgent classifies a User-Agent header. Mobile platforms are
// matched before desktop ones because Android agents also carry "Linux".
func DeviceFromUserAgent(userAgent string) session.DeviceInfo {
	ua := strings.ToLower(userAgent)
	d := session.DeviceInfo{Platform: "unknown", Browser: "unknown"}

	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		d.Platform = "ios"
	case strings.Contains(ua, "android"):
		d.Platform = "android"
	case strings.Contains(ua, "windows"):
		d.Platform = "windows"
	case strings.Contains(ua, "mac"):
		d.Platform = "macos"
	case strings.Contains(ua, "linux"):
		d.Platform = "linux"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		d.Browser = "edge"
	case strings.Contains(ua, "firefox/"), strings.Contains(ua, "fxios/"):
		d.Browser = "firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		d.Browser = "chrome"
	case strings.Contains(ua, "safari/"):
		d.Browser = "safari"
	}

	d.IsMobile = d.Platform == "ios" || d.Platform == "android" || strings.Contains(ua, "mobile")
	return d
}
