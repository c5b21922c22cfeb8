package classifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortontech/cloakgate/internal/signals"
	"github.com/shortontech/cloakgate/internal/tables"
)

const tiktokAndroidUA = "Mozilla/5.0 (Linux; Android 11; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0 Mobile Safari/537.36 musical_ly_2022203030"

func sigFor(ua string) signals.RequestSignals {
	return signals.RequestSignals{ClientIP: "81.2.69.142", UserAgent: ua, RawUserAgent: ua}
}

var (
	realAndroidFP = &signals.FingerprintData{MaxTouchPoints: 5, Platform: "Linux armv8l", WebGLRenderer: "Adreno 640"}
	emulatorFP    = &signals.FingerprintData{MaxTouchPoints: 0, Platform: "Linux x86_64", WebGLRenderer: "SwiftShader"}
)

func TestClassifyScenarios(t *testing.T) {
	tb := tables.Default()

	tests := []struct {
		name       string
		sig        signals.RequestSignals
		wantType   Type
		wantReason string
	}{
		{
			name:       "ads crawler is an infrastructure verifier",
			sig:        sigFor("Mozilla/5.0 AdsBot-Google"),
			wantType:   PlatformVerifier,
			wantReason: "infra_bot:adsbot",
		},
		{
			name:     "social app on a real phone",
			sig:      sigFor(tiktokAndroidUA).WithFingerprint(realAndroidFP),
			wantType: RealUser,
		},
		{
			name:       "social app on a desktop emulator",
			sig:        sigFor(tiktokAndroidUA).WithFingerprint(emulatorFP),
			wantType:   Bot,
			wantReason: "platform_mismatch",
		},
		{
			name:       "automation user agent",
			sig:        sigFor("Selenium/HeadlessChrome"),
			wantType:   Bot,
			wantReason: "user_agent_match:headlesschrome",
		},
		{
			name:     "plain desktop browser",
			sig:      sigFor("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"),
			wantType: RealUser,
		},
		{
			name:     "empty user agent",
			sig:      sigFor(""),
			wantType: RealUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.sig, tb)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantReason, got.ReasonCode())
		})
	}
}

func TestPlatformMismatchAlwaysWins(t *testing.T) {
	tb := tables.Default()
	fp := &signals.FingerprintData{MaxTouchPoints: 5, Platform: "Linux x86_64", WebGLRenderer: "Adreno 640"}

	uas := []string{
		"Mozilla/5.0 (Linux; Android 12) instagram 250.0",
		"Mozilla/5.0 (Linux; Android 12) AdsBot-Google-Mobile",
		"Mozilla/5.0 (Linux; Android 12) bytedance review bot",
		"Mozilla/5.0 (Linux; Android 12) Chrome/120 Mobile",
	}
	for _, ua := range uas {
		t.Run(ua, func(t *testing.T) {
			got := Classify(sigFor(ua).WithFingerprint(fp), tb)
			assert.Equal(t, Bot, got.Type)
			assert.Equal(t, "platform_mismatch", got.ReasonCode())
			assert.True(t, got.Evidence.PlatformMismatch)
		})
	}
}

func TestSocialAppBranch(t *testing.T) {
	tb := tables.Default()

	t.Run("no fingerprint is never a bot", func(t *testing.T) {
		got := Classify(sigFor(tiktokAndroidUA), tb)
		assert.Equal(t, RealUser, got.Type)
		assert.Equal(t, "musical_ly", got.Evidence.SocialApp)
	})

	t.Run("emulator token in user agent", func(t *testing.T) {
		got := Classify(sigFor("Mozilla/5.0 (Linux; Android 9) Instagram 200.0 BlueStacks"), tb)
		assert.Equal(t, PlatformVerifier, got.Type)
		assert.Equal(t, "social_app_emulator:instagram", got.ReasonCode())
	})

	t.Run("emulated renderer on arm platform", func(t *testing.T) {
		fp := &signals.FingerprintData{MaxTouchPoints: 5, Platform: "Linux armv8l", WebGLRenderer: "Google SwiftShader"}
		got := Classify(sigFor(tiktokAndroidUA).WithFingerprint(fp), tb)
		assert.Equal(t, PlatformVerifier, got.Type)
		assert.Equal(t, "social_app_emulator:musical_ly", got.ReasonCode())
	})

	t.Run("failed mobile check rescued by real gpu", func(t *testing.T) {
		fp := &signals.FingerprintData{MaxTouchPoints: 0, Platform: "Linux armv8l", WebGLRenderer: "Mali-G78"}
		got := Classify(sigFor(tiktokAndroidUA).WithFingerprint(fp), tb)
		assert.Equal(t, RealUser, got.Type)
		assert.False(t, got.Evidence.RealMobileDevice)
		assert.True(t, got.Evidence.RealGPU)
	})

	t.Run("failed mobile check without real gpu", func(t *testing.T) {
		fp := &signals.FingerprintData{MaxTouchPoints: 0, Platform: "", WebGLRenderer: "Unknown Renderer"}
		got := Classify(sigFor(tiktokAndroidUA).WithFingerprint(fp), tb)
		assert.Equal(t, Bot, got.Type)
		assert.Equal(t, "fake_mobile_fingerprint", got.ReasonCode())
	})

	t.Run("desktop social app with fingerprint", func(t *testing.T) {
		fp := &signals.FingerprintData{Platform: "MacIntel", WebGLRenderer: "Apple M1"}
		got := Classify(sigFor("Mozilla/5.0 (Macintosh) FBAN/MessengerForMac").WithFingerprint(fp), tb)
		assert.Equal(t, RealUser, got.Type)
	})

	t.Run("social app beats bot substring", func(t *testing.T) {
		got := Classify(sigFor("Mozilla/5.0 (iPhone) Snapchat/12.0 (robot-framework)"), tb)
		assert.Equal(t, RealUser, got.Type)
	})
}

func TestAdPlatformIndicators(t *testing.T) {
	tb := tables.Default()

	t.Run("verifier header", func(t *testing.T) {
		sig := sigFor("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
		sig.ProviderHeaders = map[string]string{"X-Tt-Ads-Review": "1"}
		got := Classify(sig, tb)
		assert.Equal(t, PlatformVerifier, got.Type)
		assert.Equal(t, "tiktok_header:X-Tt-Ads-Review", got.ReasonCode())
		assert.Equal(t, "tiktok", got.Evidence.AdPlatform)
	})

	t.Run("console referer", func(t *testing.T) {
		sig := sigFor("Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
		sig.Referer = "https://ads.tiktok.com/i18n/creation"
		got := Classify(sig, tb)
		assert.Equal(t, "tiktok_ads_referer", got.ReasonCode())
	})

	t.Run("ua substring needs corroboration", func(t *testing.T) {
		got := Classify(sigFor("Mozilla/5.0 google-ads-checker"), tb)
		assert.Equal(t, RealUser, got.Type)

		got = Classify(sigFor("Mozilla/5.0 google-ads-checker crawler"), tb)
		assert.Equal(t, PlatformVerifier, got.Type)
		assert.Equal(t, "google_ua:google-ads", got.ReasonCode())
	})

	t.Run("corroboration from provider header value", func(t *testing.T) {
		sig := sigFor("Mozilla/5.0 meta-ads-checker")
		sig.ProviderHeaders = map[string]string{"X-Request-Id": "review-42"}
		got := Classify(sig, tb)
		assert.Equal(t, "meta_ua:meta-ads", got.ReasonCode())
	})

	t.Run("infra verifier wins over ad platform", func(t *testing.T) {
		sig := sigFor("facebookexternalhit/1.1")
		sig.Referer = "https://adsmanager.facebook.com/"
		got := Classify(sig, tb)
		assert.Equal(t, "infra_bot:facebookexternalhit", got.ReasonCode())
	})
}

func TestClassifyIsIdempotent(t *testing.T) {
	tb := tables.Default()
	sig := sigFor(tiktokAndroidUA).WithFingerprint(realAndroidFP)
	sig.ProviderHeaders = map[string]string{"Cf-Ray": "abc", "X-Request-Id": "r1"}

	first := Classify(sig, tb)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(sig, tb))
	}
}

func TestCleanTrafficIsRealUser(t *testing.T) {
	tb := tables.Default()
	uas := []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148",
	}
	for _, ua := range uas {
		got := Classify(sigFor(ua), tb)
		assert.Equalf(t, RealUser, got.Type, "ua %q", ua)
		assert.Empty(t, got.ReasonCode())
	}
}

func TestResultJSON(t *testing.T) {
	res := Result{Type: PlatformVerifier, Reason: Reason{Kind: ReasonAdHeader, Platform: "tiktok", Detail: "X-Tt-Ads-Review"}}
	b, err := json.Marshal(res)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "platform_verifier", out["type"])
	assert.Equal(t, "tiktok_header:X-Tt-Ads-Review", out["reason"])
}
