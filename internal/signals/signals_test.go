package signals

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	opts := Options{TrustProxy: true, EdgeIPHeader: "CF-Connecting-IP"}

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		opts       Options
		want       string
	}{
		{
			name:       "edge header wins over forwarded-for",
			headers:    map[string]string{"CF-Connecting-IP": "81.2.69.142", "X-Forwarded-For": "6.6.6.6"},
			remoteAddr: "10.0.0.1:1234",
			opts:       opts,
			want:       "81.2.69.142",
		},
		{
			name:       "first forwarded-for entry",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			remoteAddr: "10.0.0.1:1234",
			opts:       opts,
			want:       "203.0.113.5",
		},
		{
			name:       "real-ip when no forwarded-for",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			remoteAddr: "10.0.0.1:1234",
			opts:       opts,
			want:       "203.0.113.9",
		},
		{
			name:       "proxy headers ignored without trust",
			headers:    map[string]string{"X-Forwarded-For": "6.6.6.6", "X-Real-IP": "7.7.7.7"},
			remoteAddr: "198.51.100.7:443",
			opts:       Options{EdgeIPHeader: "CF-Connecting-IP"},
			want:       "198.51.100.7",
		},
		{
			name:       "edge header ignored without trust",
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.5"},
			remoteAddr: "34.120.1.1:443",
			opts:       Options{EdgeIPHeader: "CF-Connecting-IP"},
			want:       "34.120.1.1",
		},
		{
			name:       "ipv6 socket address",
			remoteAddr: "[2001:db8::1]:8080",
			opts:       opts,
			want:       "2001:db8::1",
		},
		{
			name:       "nothing available",
			remoteAddr: "",
			opts:       opts,
			want:       UnknownIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tt.opts); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?cloaking=abc", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone) Instagram 300.0")
	req.Header.Set("Referer", "https://ads.tiktok.com/i18n/perf")
	req.Header.Set("CF-Ray", "8a1b2c3d4e5f")
	req.Header.Set("X-Not-Whitelisted", "secret")

	s := Extract(req, Options{ProviderHeaders: []string{"CF-Ray", "X-TT-Logid"}})

	if s.UserAgent != "mozilla/5.0 (iphone) instagram 300.0" {
		t.Errorf("UserAgent = %q, want lower-cased", s.UserAgent)
	}
	if s.RawUserAgent != "Mozilla/5.0 (iPhone) Instagram 300.0" {
		t.Errorf("RawUserAgent = %q", s.RawUserAgent)
	}
	if !s.HasReferer() {
		t.Error("expected referer")
	}
	if len(s.ProviderHeaders) != 1 || s.ProviderHeaders["Cf-Ray"] != "8a1b2c3d4e5f" {
		t.Errorf("ProviderHeaders = %v, want only Cf-Ray", s.ProviderHeaders)
	}
	if s.Fingerprint != nil {
		t.Error("fingerprint must be nil for a GET")
	}
}

func TestExtractDefaultsMissingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header = http.Header{}
	req.RemoteAddr = ""

	s := Extract(req, Options{})

	if s.UserAgent != "" || s.Referer != "" {
		t.Errorf("expected empty UA and referer, got %q %q", s.UserAgent, s.Referer)
	}
	if s.ClientIP != UnknownIP {
		t.Errorf("ClientIP = %q, want %q", s.ClientIP, UnknownIP)
	}
	if len(s.Anomalies.MissingExpected) != 4 {
		t.Errorf("MissingExpected = %v, want 4 entries", s.Anomalies.MissingExpected)
	}
	if s.ProviderHeaders != nil {
		t.Errorf("ProviderHeaders = %v, want nil", s.ProviderHeaders)
	}
}

func TestAnalyzeHeaders(t *testing.T) {
	t.Run("detects automation values", func(t *testing.T) {
		h := http.Header{}
		h.Set("User-Agent", "Mozilla/5.0 HeadlessChrome/120.0")
		h.Set("Accept", "*/*")

		a := analyzeHeaders(h)
		if len(a.AutomationHeaders) != 1 || a.AutomationHeaders[0] != "user-agent" {
			t.Errorf("AutomationHeaders = %v, want [user-agent]", a.AutomationHeaders)
		}
		if !a.Any() {
			t.Error("Any() should be true")
		}
	})

	t.Run("detects devtools header by presence", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-DevTools-Emulate-Network-Conditions-Client-Id", "1")

		a := analyzeHeaders(h)
		found := false
		for _, name := range a.AutomationHeaders {
			if name == "x-devtools-emulate-network-conditions-client-id" {
				found = true
			}
		}
		if !found {
			t.Errorf("AutomationHeaders = %v, want devtools header", a.AutomationHeaders)
		}
	})

	t.Run("fingerprint is stable", func(t *testing.T) {
		h := http.Header{}
		h.Set("Accept", "text/html")
		h.Set("User-Agent", "Mozilla/5.0")

		first := headerFingerprint(h)
		if first != headerFingerprint(h.Clone()) {
			t.Error("fingerprint changed between identical header sets")
		}
		if len(first) != 16 {
			t.Errorf("fingerprint length = %d, want 16", len(first))
		}
	})
}

func TestParseFingerprint(t *testing.T) {
	t.Run("wrapped payload", func(t *testing.T) {
		fp, err := ParseFingerprint([]byte(`{"fingerprint":{"maxTouchPoints":5,"platform":"Linux armv8l","webglRenderer":"Adreno 640"}}`))
		if err != nil {
			t.Fatalf("ParseFingerprint() error = %v", err)
		}
		if fp.MaxTouchPoints != 5 || fp.Platform != "Linux armv8l" || fp.WebGLRenderer != "Adreno 640" {
			t.Errorf("unexpected fingerprint %+v", fp)
		}
	})

	t.Run("bare payload", func(t *testing.T) {
		fp, err := ParseFingerprint([]byte(`{"maxTouchPoints":-3,"platform":" Win32 "}`))
		if err != nil {
			t.Fatalf("ParseFingerprint() error = %v", err)
		}
		if fp.MaxTouchPoints != 0 {
			t.Errorf("MaxTouchPoints = %d, want clamped to 0", fp.MaxTouchPoints)
		}
		if fp.Platform != "Win32" {
			t.Errorf("Platform = %q, want trimmed", fp.Platform)
		}
	})

	t.Run("empty object is no fingerprint", func(t *testing.T) {
		fp, err := ParseFingerprint([]byte(`{}`))
		if err != nil || fp != nil {
			t.Errorf("ParseFingerprint({}) = %v, %v; want nil, nil", fp, err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseFingerprint([]byte(`[1,2`))
		if !errors.Is(err, ErrInvalidFingerprint) {
			t.Errorf("error = %v, want ErrInvalidFingerprint", err)
		}
	})
}
