package classifier

import (
	"strings"

	"github.com/shortontech/cloakgate/internal/signals"
	"github.com/shortontech/cloakgate/internal/tables"
)

var (
	mobileUATokens      = []string{"android", "iphone", "ipad", "ipod", "mobile"}
	desktopPlatformHint = []string{"x86", "win32", "win64", "wow64"}
	mobilePlatformHint  = []string{"arm", "aarch64", "iphone", "ipad", "ipod"}
)

// UserAgentClaimsMobile reports whether ua presents itself as a phone or
// tablet.
func UserAgentClaimsMobile(ua string) bool {
	return containsAny(strings.ToLower(ua), mobileUATokens)
}

// PlatformIsDesktop reports whether a navigator.platform value names a
// desktop architecture (x86, x86_64, Win32, Win64, "Linux x86_64").
func PlatformIsDesktop(platform string) bool {
	return containsAny(strings.ToLower(platform), desktopPlatformHint)
}

// HasPlatformMismatch is the strongest bot signal: a mobile user agent
// running on a desktop platform.
func HasPlatformMismatch(ua, platform string) bool {
	return UserAgentClaimsMobile(ua) && PlatformIsDesktop(platform)
}

// HasRealGPU reports whether renderer names a hardware GPU vendor.
func HasRealGPU(t *tables.Tables, renderer string) bool {
	return t.HasRealGPUVendor(strings.ToLower(renderer))
}

// IsEmulatedGPU reports whether renderer is a software, virtual or
// emulator renderer.
func IsEmulatedGPU(t *tables.Tables, renderer string) bool {
	_, ok := t.MatchEmulatorGPU(strings.ToLower(renderer))
	return ok
}

// IsRealMobileDevice reports whether fp is consistent with a physical
// phone or tablet. A nil fingerprint is never a real device.
func IsRealMobileDevice(t *tables.Tables, fp *signals.FingerprintData, ua string) bool {
	if fp == nil {
		return false
	}
	if HasPlatformMismatch(ua, fp.Platform) {
		return false
	}
	if IsEmulatedGPU(t, fp.WebGLRenderer) {
		return false
	}
	platform := strings.ToLower(fp.Platform)
	return fp.MaxTouchPoints > 0 &&
		containsAny(platform, mobilePlatformHint) &&
		!PlatformIsDesktop(platform)
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
