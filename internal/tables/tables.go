package tables

import (
	"errors"
	"fmt"
	"net/netip"
	"net/textproto"
	"strings"
)

// ErrInvalidPrefix is returned when an IP prefix entry cannot be parsed.
var ErrInvalidPrefix = errors.New("invalid ip prefix")

// AdPlatform describes how an advertising platform's verification traffic
// identifies itself. A UA substring alone is not enough; it must be
// corroborated by a token in the UA or provider headers. A verifier header
// or a console referer is sufficient on its own.
type AdPlatform struct {
	Name                string   `yaml:"name" json:"name"`
	UASubstrings        []string `yaml:"ua_substrings" json:"ua_substrings"`
	CorroborationTokens []string `yaml:"corroboration_tokens" json:"corroboration_tokens"`
	VerifierHeaders     []string `yaml:"verifier_headers" json:"verifier_headers"`
	ConsoleReferers     []string `yaml:"console_referers" json:"console_referers"`
}

// Spec is the serialized form of the classification tables.
type Spec struct {
	BotUserAgents  []string     `yaml:"bot_user_agents" json:"bot_user_agents"`
	SocialApps     []string     `yaml:"social_apps" json:"social_apps"`
	InfraVerifiers []string     `yaml:"infra_verifiers" json:"infra_verifiers"`
	EmulatorGPUs   []string     `yaml:"emulator_gpus" json:"emulator_gpus"`
	RealGPUVendors []string     `yaml:"real_gpu_vendors" json:"real_gpu_vendors"`
	DatacenterIPv4 []string     `yaml:"datacenter_ipv4" json:"datacenter_ipv4"`
	DatacenterIPv6 []string     `yaml:"datacenter_ipv6" json:"datacenter_ipv6"`
	CloudflareIPv4 []string     `yaml:"cloudflare_ipv4" json:"cloudflare_ipv4"`
	CloudflareIPv6 []string     `yaml:"cloudflare_ipv6" json:"cloudflare_ipv6"`
	TraceHeaders   []string     `yaml:"trace_headers" json:"trace_headers"`
	AdPlatforms    []AdPlatform `yaml:"ad_platforms" json:"ad_platforms"`
}

// Tables is the compiled, read-only form of a Spec. It is built once at
// startup and shared by every request without locking; nothing in this
// package mutates a Tables after New returns.
type Tables struct {
	botUA          []string
	socialApps     []string
	infraVerifiers []string
	emulatorGPUs   []string
	realGPUVendors []string

	dcV4 prefixSet
	dcV6 prefixSet
	cfV4 prefixSet
	cfV6 prefixSet

	adPlatforms     []AdPlatform
	providerHeaders []string
}

// New compiles a Spec. Entries are lower-cased; list order is preserved
// because the first matching entry decides the reason code.
func New(s Spec) (*Tables, error) {
	t := &Tables{
		botUA:          lowerAll(s.BotUserAgents),
		socialApps:     lowerAll(s.SocialApps),
		infraVerifiers: lowerAll(s.InfraVerifiers),
		emulatorGPUs:   lowerAll(s.EmulatorGPUs),
		realGPUVendors: lowerAll(s.RealGPUVendors),
	}

	var err error
	if t.dcV4, err = newPrefixSet(s.DatacenterIPv4); err != nil {
		return nil, fmt.Errorf("datacenter_ipv4: %w", err)
	}
	if t.dcV6, err = newPrefixSet(s.DatacenterIPv6); err != nil {
		return nil, fmt.Errorf("datacenter_ipv6: %w", err)
	}
	if t.cfV4, err = newPrefixSet(s.CloudflareIPv4); err != nil {
		return nil, fmt.Errorf("cloudflare_ipv4: %w", err)
	}
	if t.cfV6, err = newPrefixSet(s.CloudflareIPv6); err != nil {
		return nil, fmt.Errorf("cloudflare_ipv6: %w", err)
	}

	seen := map[string]bool{}
	addHeader := func(h string) {
		h = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h))
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		t.providerHeaders = append(t.providerHeaders, h)
	}
	for _, h := range s.TraceHeaders {
		addHeader(h)
	}
	for _, p := range s.AdPlatforms {
		ap := AdPlatform{
			Name:                strings.ToLower(strings.TrimSpace(p.Name)),
			UASubstrings:        lowerAll(p.UASubstrings),
			CorroborationTokens: lowerAll(p.CorroborationTokens),
			ConsoleReferers:     lowerAll(p.ConsoleReferers),
		}
		for _, h := range p.VerifierHeaders {
			ap.VerifierHeaders = append(ap.VerifierHeaders, textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h)))
			addHeader(h)
		}
		t.adPlatforms = append(t.adPlatforms, ap)
	}
	return t, nil
}

// MustNew is New for built-in specs that are known to compile.
func MustNew(s Spec) *Tables {
	t, err := New(s)
	if err != nil {
		panic(err)
	}
	return t
}

// MatchInfraVerifier reports the first infrastructure-verifier entry
// contained in the user agent. Like the other matchers it expects lower-case
// input; the table entries are folded once in New.
func (t *Tables) MatchInfraVerifier(ua string) (string, bool) {
	return firstContained(ua, t.infraVerifiers)
}

// MatchSocialApp reports the first social-app identifier in ua.
func (t *Tables) MatchSocialApp(ua string) (string, bool) {
	return firstContained(ua, t.socialApps)
}

// MatchBotUA reports the first bot substring in ua.
func (t *Tables) MatchBotUA(ua string) (string, bool) {
	return firstContained(ua, t.botUA)
}

// MatchEmulatorGPU reports the first emulator or software renderer token in
// the lower-cased string s.
func (t *Tables) MatchEmulatorGPU(s string) (string, bool) {
	return firstContained(s, t.emulatorGPUs)
}

// HasRealGPUVendor reports whether the lower-cased renderer names a hardware
// GPU vendor.
func (t *Tables) HasRealGPUVendor(renderer string) bool {
	_, ok := firstContained(renderer, t.realGPUVendors)
	return ok
}

// AdPlatforms returns the ad-platform indicator table in evaluation order.
// The slice must not be modified.
func (t *Tables) AdPlatforms() []AdPlatform {
	return t.adPlatforms
}

// ProviderHeaders returns the canonical names of the headers kept from a
// request for classification and logging. The slice must not be modified.
func (t *Tables) ProviderHeaders() []string {
	return t.providerHeaders
}

// IsDatacenterIP reports whether ip falls in a known hosting-provider range.
func (t *Tables) IsDatacenterIP(ip string) bool {
	ip = normalizeIP(ip)
	if isV6(ip) {
		return t.dcV6.contains(ip)
	}
	return t.dcV4.contains(ip)
}

// IsCloudflareIP reports whether ip belongs to a Cloudflare edge range.
func (t *Tables) IsCloudflareIP(ip string) bool {
	ip = normalizeIP(ip)
	if isV6(ip) {
		return t.cfV6.contains(ip)
	}
	return t.cfV4.contains(ip)
}

func firstContained(lowerValue string, entries []string) (string, bool) {
	if lowerValue == "" {
		return "", false
	}
	for _, e := range entries {
		if strings.Contains(lowerValue, e) {
			return e, true
		}
	}
	return "", false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeIP lower-cases ip and rewrites IPv4-mapped IPv6 addresses to
// their IPv4 form so they hit the IPv4 tables.
func normalizeIP(ip string) string {
	ip = strings.ToLower(strings.TrimSpace(ip))
	if addr, err := netip.ParseAddr(ip); err == nil && addr.Is4In6() {
		return addr.Unmap().String()
	}
	return ip
}

func isV6(ip string) bool {
	return strings.Contains(ip, ":")
}

// prefixSet matches an address against plain string prefixes ("34.") and
// CIDR blocks ("34.64.0.0/10").
type prefixSet struct {
	literal []string
	cidrs   []netip.Prefix
}

func newPrefixSet(entries []string) (prefixSet, error) {
	var ps prefixSet
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return prefixSet{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, e)
			}
			ps.cidrs = append(ps.cidrs, p.Masked())
			continue
		}
		ps.literal = append(ps.literal, e)
	}
	return ps, nil
}

func (ps prefixSet) contains(ip string) bool {
	if ip == "" || ip == "unknown" {
		return false
	}
	for _, p := range ps.literal {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	if len(ps.cidrs) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, c := range ps.cidrs {
		if c.Contains(addr) {
			return true
		}
	}
	return false
}
