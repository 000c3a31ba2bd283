package internal

import (
	"testing"

	"github.com/MrEthical07/clinicauth/session"
)

func TestDeviceFromUserAgent(t *testing.T) {
	cases := []struct {
		ua   string
		want session.DeviceInfo
	}{
		{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0 Safari/537.36 Edg/128.0",
			session.DeviceInfo{Platform: "windows", Browser: "edge"},
		},
		{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
			session.DeviceInfo{Platform: "macos", Browser: "safari"},
		},
		{
			"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0 Mobile Safari/537.36",
			session.DeviceInfo{Platform: "android", Browser: "chrome", IsMobile: true},
		},
		{
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			session.DeviceInfo{Platform: "ios", Browser: "safari", IsMobile: true},
		},
		{
			"Mozilla/5.0 (X11; Linux x86_64; rv:129.0) Gecko/20100101 Firefox/129.0",
			session.DeviceInfo{Platform: "linux", Browser: "firefox"},
		},
		{"", session.DeviceInfo{Platform: "unknown", Browser: "unknown"}},
	}
	for _, tc := range cases {
		if got := DeviceFromUserAgent(tc.ua); got != tc.want {
			t.Errorf("DeviceFromUserAgent(%q) = %+v, want %+v", tc.ua, got, tc.want)
		}
	}
}
