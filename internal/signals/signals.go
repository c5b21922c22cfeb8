package signals

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// UnknownIP is the client IP recorded when no header or socket address
// yields one.
const UnknownIP = "unknown"

// RequestSignals is the normalized view of an inbound request that the
// classifier consumes. It is built once per request and not modified after.
type RequestSignals struct {
	ClientIP     string `json:"client_ip"`
	UserAgent    string `json:"user_agent"` // lower-cased for matching
	RawUserAgent string `json:"raw_user_agent,omitempty"`
	Referer      string `json:"referer,omitempty"`

	// ProviderHeaders holds only the whitelisted headers present on the
	// request, keyed by canonical name.
	ProviderHeaders map[string]string `json:"provider_headers,omitempty"`

	// Fingerprint is nil unless the client posted one.
	Fingerprint *FingerprintData `json:"fingerprint,omitempty"`

	Anomalies Anomalies `json:"anomalies"`
}

// HasReferer reports whether a referer was sent.
func (s RequestSignals) HasReferer() bool { return s.Referer != "" }

// FingerprintData is client-reported and untrusted. It may refute a
// user agent's claims but is never enough on its own to admit traffic.
type FingerprintData struct {
	MaxTouchPoints int    `json:"maxTouchPoints"`
	Platform       string `json:"platform"`
	WebGLRenderer  string `json:"webglRenderer"`
}

// Options controls how signals are pulled from a request.
type Options struct {
	// TrustProxy enables the edge header, X-Forwarded-For and X-Real-IP.
	// Without it only the socket peer is used.
	TrustProxy   bool
	EdgeIPHeader string
	// ProviderHeaders lists the header names copied into RequestSignals.
	ProviderHeaders []string
}

// Extract builds RequestSignals from r. It performs no I/O and never fails;
// missing headers become empty strings and a missing IP becomes UnknownIP.
func Extract(r *http.Request, opts Options) RequestSignals {
	raw := r.Header.Get("User-Agent")
	s := RequestSignals{
		ClientIP:     ClientIP(r, opts),
		UserAgent:    strings.ToLower(raw),
		RawUserAgent: raw,
		Referer:      strings.TrimSpace(r.Header.Get("Referer")),
		Anomalies:    analyzeHeaders(r.Header),
	}
	for _, name := range opts.ProviderHeaders {
		if v := r.Header.Get(name); v != "" {
			if s.ProviderHeaders == nil {
				s.ProviderHeaders = make(map[string]string, len(opts.ProviderHeaders))
			}
			s.ProviderHeaders[http.CanonicalHeaderKey(name)] = v
		}
	}
	return s
}

// WithFingerprint returns a copy of s carrying fp.
func (s RequestSignals) WithFingerprint(fp *FingerprintData) RequestSignals {
	s.Fingerprint = fp
	return s
}

// ClientIP resolves the visitor address. Behind a trusted proxy that is the
// edge header, then the first X-Forwarded-For entry, then X-Real-IP. The
// socket peer is the fallback and the only source when proxies are not trusted.
func ClientIP(r *http.Request, opts Options) string {
	if opts.TrustProxy {
		if opts.EdgeIPHeader != "" {
			if ip := stripPort(r.Header.Get(opts.EdgeIPHeader)); ip != "" {
				return ip
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := stripPort(first); ip != "" {
				return ip
			}
		}
		if ip := stripPort(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	if ip := stripPort(r.RemoteAddr); ip != "" {
		return ip
	}
	return UnknownIP
}

func stripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

// ErrInvalidFingerprint is returned for payloads that are not a
// fingerprint object.
var ErrInvalidFingerprint = errors.New("invalid fingerprint payload")

// ParseFingerprint decodes either {"fingerprint": {...}} or a bare
// fingerprint object. Negative touch point counts are clamped to zero. A
// payload with no fingerprint fields yields nil, nil.
func ParseFingerprint(body []byte) (*FingerprintData, error) {
	var wrapped struct {
		Fingerprint *FingerprintData `json:"fingerprint"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	fp := wrapped.Fingerprint
	if fp == nil {
		fp = &FingerprintData{}
		if err := json.Unmarshal(body, fp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
		}
	}
	if fp.MaxTouchPoints < 0 {
		fp.MaxTouchPoints = 0
	}
	fp.Platform = strings.TrimSpace(fp.Platform)
	fp.WebGLRenderer = strings.TrimSpace(fp.WebGLRenderer)
	if *fp == (FingerprintData{}) {
		return nil, nil
	}
	return fp, nil
}
