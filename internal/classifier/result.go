package classifier

// Type is the visitor class a request is assigned.
type Type string

const (
	RealUser         Type = "real_user"
	Bot              Type = "bot"
	PlatformVerifier Type = "platform_verifier"
)

// ReasonKind enumerates every reason code the engine can emit.
type ReasonKind string

const (
	ReasonNone              ReasonKind = ""
	ReasonPlatformMismatch  ReasonKind = "platform_mismatch"
	ReasonInfraBot          ReasonKind = "infra_bot"
	ReasonAdUserAgent       ReasonKind = "ua"          // rendered as <platform>_ua:<substring>
	ReasonAdHeader          ReasonKind = "header"      // rendered as <platform>_header:<header>
	ReasonAdReferer         ReasonKind = "ads_referer" // rendered as <platform>_ads_referer
	ReasonSocialAppEmulator ReasonKind = "social_app_emulator"
	ReasonFakeMobile        ReasonKind = "fake_mobile_fingerprint"
	ReasonUserAgentMatch    ReasonKind = "user_agent_match"
	ReasonDatacenterIP      ReasonKind = "datacenter_ip"
)

// Reason is a reason code. Platform is set only for ad-platform kinds.
type Reason struct {
	Kind     ReasonKind
	Platform string
	Detail   string
}

// String renders the wire form, e.g. "infra_bot:adsbot" or
// "tiktok_header:X-Tt-Ads-Review".
func (r Reason) String() string {
	if r.Kind == ReasonNone {
		return ""
	}
	s := string(r.Kind)
	if r.Platform != "" {
		s = r.Platform + "_" + s
	}
	if r.Detail != "" {
		s += ":" + r.Detail
	}
	return s
}

// MarshalText encodes the reason as its wire form.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Evidence records the checks behind a classification. Engine-level
// switches fill the last group.
type Evidence struct {
	ClaimsMobile     bool   `json:"claims_mobile"`
	HasFingerprint   bool   `json:"has_fingerprint"`
	PlatformMismatch bool   `json:"platform_mismatch"`
	RealGPU          bool   `json:"real_gpu"`
	EmulatedGPU      bool   `json:"emulated_gpu"`
	RealMobileDevice bool   `json:"real_mobile_device"`
	InfraVerifier    string `json:"infra_verifier,omitempty"`
	AdPlatform       string `json:"ad_platform,omitempty"`
	SocialApp        string `json:"social_app,omitempty"`
	BotUserAgent     string `json:"bot_user_agent,omitempty"`
	HeaderAnomalies  bool   `json:"header_anomalies"`

	DatacenterIP    bool `json:"datacenter_ip"`
	CloudflareIP    bool `json:"cloudflare_ip"`
	AllowedKnownBot bool `json:"allowed_known_bot"`
}

// Result is the output of Classify.
type Result struct {
	Type     Type     `json:"type"`
	Reason   Reason   `json:"reason"`
	Evidence Evidence `json:"evidence"`
}

// ReasonCode is Reason.String.
func (r Result) ReasonCode() string { return r.Reason.String() }

// IsBlocking reports whether the result keeps the visitor away from the
// real destination.
func (r Result) IsBlocking() bool { return r.Type != RealUser }
