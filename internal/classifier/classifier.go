// Package classifier decides whether a request comes from a real user, a
// bot or an advertising-platform verifier.
//
// Classify is a pure function of its inputs. Rules run in a fixed order and
// the first match wins:
//
//  1. platform mismatch (mobile UA on a desktop platform) -> bot
//  2. infrastructure verifier UA                          -> platform_verifier
//  3. ad-platform indicators                              -> platform_verifier
//  4. social-app UA, refined by the fingerprint           -> real_user, platform_verifier or bot
//  5. bot UA substring                                    -> bot
//  6. anything else                                       -> real_user
package classifier

import (
	"strings"

	"github.com/shortontech/cloakgate/internal/signals"
	"github.com/shortontech/cloakgate/internal/tables"
)

// Classify runs the rule chain over sig using t.
func Classify(sig signals.RequestSignals, t *tables.Tables) Result {
	ua := strings.ToLower(sig.UserAgent)
	ev := Evidence{
		ClaimsMobile:    UserAgentClaimsMobile(ua),
		HeaderAnomalies: sig.Anomalies.Any(),
	}

	fp := sig.Fingerprint
	if fp != nil {
		ev.HasFingerprint = true
		ev.PlatformMismatch = HasPlatformMismatch(ua, fp.Platform)
		ev.RealGPU = HasRealGPU(t, fp.WebGLRenderer)
		ev.EmulatedGPU = IsEmulatedGPU(t, fp.WebGLRenderer)
		ev.RealMobileDevice = IsRealMobileDevice(t, fp, ua)
	}

	// Mismatch is checked before everything, including the social-app branch.
	if ev.PlatformMismatch {
		return Result{Type: Bot, Reason: Reason{Kind: ReasonPlatformMismatch}, Evidence: ev}
	}

	if name, ok := t.MatchInfraVerifier(ua); ok {
		ev.InfraVerifier = name
		return Result{Type: PlatformVerifier, Reason: Reason{Kind: ReasonInfraBot, Detail: name}, Evidence: ev}
	}

	if reason, ok := matchAdPlatform(sig, ua, t); ok {
		ev.AdPlatform = reason.Platform
		return Result{Type: PlatformVerifier, Reason: reason, Evidence: ev}
	}

	if app, ok := t.MatchSocialApp(ua); ok {
		ev.SocialApp = app
		return classifySocialApp(app, ua, ev, t)
	}

	if sub, ok := t.MatchBotUA(ua); ok {
		ev.BotUserAgent = sub
		return Result{Type: Bot, Reason: Reason{Kind: ReasonUserAgentMatch, Detail: sub}, Evidence: ev}
	}

	return Result{Type: RealUser, Evidence: ev}
}

// classifySocialApp handles in-app browsers. Without a fingerprint the
// visitor is always a real user.
func classifySocialApp(app, ua string, ev Evidence, t *tables.Tables) Result {
	if _, emu := t.MatchEmulatorGPU(ua); emu || ev.EmulatedGPU {
		return Result{Type: PlatformVerifier, Reason: Reason{Kind: ReasonSocialAppEmulator, Detail: app}, Evidence: ev}
	}
	if ev.HasFingerprint && ev.ClaimsMobile && !ev.RealMobileDevice {
		if ev.RealGPU {
			return Result{Type: RealUser, Evidence: ev}
		}
		return Result{Type: Bot, Reason: Reason{Kind: ReasonFakeMobile}, Evidence: ev}
	}
	return Result{Type: RealUser, Evidence: ev}
}

// matchAdPlatform checks each platform in table order. Within a platform a
// verifier header wins over a console referer, which wins over a
// corroborated UA substring.
func matchAdPlatform(sig signals.RequestSignals, ua string, t *tables.Tables) (Reason, bool) {
	referer := strings.ToLower(sig.Referer)
	for _, p := range t.AdPlatforms() {
		for _, h := range p.VerifierHeaders {
			if _, ok := sig.ProviderHeaders[h]; ok {
				return Reason{Kind: ReasonAdHeader, Platform: p.Name, Detail: h}, true
			}
		}
		if referer != "" && containsAny(referer, p.ConsoleReferers) {
			return Reason{Kind: ReasonAdReferer, Platform: p.Name}, true
		}
		for _, sub := range p.UASubstrings {
			if strings.Contains(ua, sub) && corroborated(ua, sig.ProviderHeaders, p.CorroborationTokens) {
				return Reason{Kind: ReasonAdUserAgent, Platform: p.Name, Detail: sub}, true
			}
		}
	}
	return Reason{}, false
}

func corroborated(ua string, headers map[string]string, tokens []string) bool {
	if containsAny(ua, tokens) {
		return true
	}
	for _, v := range headers {
		if containsAny(strings.ToLower(v), tokens) {
			return true
		}
	}
	return false
}
