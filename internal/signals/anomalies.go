package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// Anomalies are informational header findings. They are recorded as
// evidence but never change a classification on their own.
type Anomalies struct {
	MissingExpected   []string `json:"missing_expected,omitempty"`
	AutomationHeaders []string `json:"automation_headers,omitempty"`
	HeaderCount       int      `json:"header_count"`
	HeaderFingerprint string   `json:"header_fingerprint"`
}

// Any reports whether at least one anomaly was found.
func (a Anomalies) Any() bool {
	return len(a.MissingExpected) > 0 || len(a.AutomationHeaders) > 0
}

var automationKeywords = []string{"headless", "selenium", "webdriver", "puppeteer", "playwright"}

// Headers whose mere presence points at tooling.
var automationHeaderNames = []string{
	"X-Devtools-Emulate-Network-Conditions-Client-Id",
	"Chrome-Proxy",
}

var expectedHeaders = []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"}

func analyzeHeaders(h http.Header) Anomalies {
	a := Anomalies{
		HeaderCount:       len(h),
		HeaderFingerprint: headerFingerprint(h),
	}

	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range h[name] {
			lv := strings.ToLower(v)
			if containsAny(lv, automationKeywords) {
				a.AutomationHeaders = append(a.AutomationHeaders, strings.ToLower(name))
				break
			}
		}
	}
	for _, name := range automationHeaderNames {
		if h.Get(name) != "" {
			a.AutomationHeaders = append(a.AutomationHeaders, strings.ToLower(name))
		}
	}
	for _, name := range expectedHeaders {
		if h.Get(name) == "" {
			a.MissingExpected = append(a.MissingExpected, name)
		}
	}
	return a
}

// headerFingerprint hashes sorted header names with truncated values.
func headerFingerprint(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := h.Get(k)
		if len(v) > 20 {
			v = v[:20] + "..."
		}
		parts = append(parts, k+":"+v)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
