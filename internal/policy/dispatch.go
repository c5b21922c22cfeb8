package policy

import (
	"net/http"

	"github.com/shortontech/cloakgate/internal/assets"
	"github.com/shortontech/cloakgate/internal/classifier"
)

// ActionKind tags an Action.
type ActionKind string

const (
	ActionRedirect     ActionKind = "redirect"
	ActionServeDecoy   ActionKind = "serve_decoy"
	ActionBlock        ActionKind = "block"
	ActionSafeRedirect ActionKind = "safe_redirect"
)

// Action is the response the visitor gets. URL is set for the redirect
// kinds, HTML for ServeDecoy.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Status int        `json:"status"`
	URL    string     `json:"url,omitempty"`
	HTML   []byte     `json:"-"`
}

func redirect(url string) Action {
	return Action{Kind: ActionRedirect, Status: http.StatusFound, URL: url}
}

func serveDecoy(p CloakingPolicy) Action {
	return Action{Kind: ActionServeDecoy, Status: http.StatusOK, HTML: RenderDecoy(p)}
}

// Dispatch maps a classification onto the policy.
//
//	platform_verifier + safe_redirect_url -> SafeRedirect
//	platform_verifier, bot                -> bot_action
//	real_user                             -> Redirect to the device-aware URL
func Dispatch(res classifier.Result, p CloakingPolicy, d Device) Action {
	switch res.Type {
	case classifier.PlatformVerifier:
		if p.SafeRedirectURL != "" {
			return Action{Kind: ActionSafeRedirect, Status: http.StatusFound, URL: p.SafeRedirectURL}
		}
		return botAction(p)
	case classifier.Bot:
		return botAction(p)
	default:
		return redirect(p.DestinationURL(d))
	}
}

func botAction(p CloakingPolicy) Action {
	switch p.BotAction {
	case BlockBots:
		return Action{Kind: ActionBlock, Status: http.StatusForbidden}
	case RedirectBots:
		if p.BotRedirectURL == "" {
			return serveDecoy(p)
		}
		return redirect(p.BotRedirectURL)
	default:
		return serveDecoy(p)
	}
}

// RenderDecoy returns the decoy body for p: the custom HTML verbatim when
// set, otherwise the built-in template.
func RenderDecoy(p CloakingPolicy) []byte {
	if p.FakePageCustomHTML != "" {
		return []byte(p.FakePageCustomHTML)
	}
	return assets.Decoy(p.FakePageTemplateID)
}
