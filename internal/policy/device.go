package policy

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device is the visitor's device class for URL selection.
type Device string

const (
	Desktop Device = "desktop"
	Mobile  Device = "mobile"
)

var mobileTokens = []string{
	"mobile", "android", "iphone", "ipad", "ipod",
	"blackberry", "opera mini", "iemobile", "windows phone",
}

// DeviceFromUserAgent classifies ua as mobile when it carries a mobile token
// or the parser reports a mobile browser. Everything else is desktop.
func DeviceFromUserAgent(ua string) Device {
	lower := strings.ToLower(ua)
	for _, tok := range mobileTokens {
		if strings.Contains(lower, tok) {
			return Mobile
		}
	}
	if ua != "" && useragent.New(ua).Mobile() {
		return Mobile
	}
	return Desktop
}
