package policy

import (
	"errors"
	"fmt"
	"net/url"

	"gopkg.in/yaml.v3"
)

// ErrMalformedPolicy is returned by Validate. Visitors never see the
// underlying reason.
var ErrMalformedPolicy = errors.New("malformed cloaking policy")

// BotAction is what bots see.
type BotAction string

const (
	FakePage     BotAction = "fake_page"
	RedirectBots BotAction = "redirect"
	BlockBots    BotAction = "block"
)

// CloakingPolicy is the per-resource configuration. The engine only reads it.
type CloakingPolicy struct {
	BotAction        BotAction `yaml:"bot_action" json:"bot_action"`
	BlockKnownBots   bool      `yaml:"block_known_bots" json:"block_known_bots"`
	BlockDataCenters bool      `yaml:"block_data_centers" json:"block_data_centers"`

	SafeRedirectURL    string `yaml:"safe_redirect_url" json:"safe_redirect_url,omitempty"`
	RedirectURL        string `yaml:"redirect_url" json:"redirect_url"`
	RedirectURLDesktop string `yaml:"redirect_url_desktop" json:"redirect_url_desktop,omitempty"`
	RedirectURLMobile  string `yaml:"redirect_url_mobile" json:"redirect_url_mobile,omitempty"`
	UseSeparateURLs    bool   `yaml:"use_separate_urls" json:"use_separate_urls"`
	BotRedirectURL     string `yaml:"bot_redirect_url" json:"bot_redirect_url,omitempty"`

	FakePageTemplateID int    `yaml:"fake_page_template_id" json:"fake_page_template_id"`
	FakePageCustomHTML string `yaml:"fake_page_custom_html" json:"fake_page_custom_html,omitempty"`
}

// Defaults returns the policy a new resource starts with.
func Defaults() CloakingPolicy {
	return CloakingPolicy{
		BotAction:          FakePage,
		BlockKnownBots:     true,
		FakePageTemplateID: 1,
	}
}

// UnmarshalYAML fills omitted fields from Defaults.
func (p *CloakingPolicy) UnmarshalYAML(node *yaml.Node) error {
	type plain CloakingPolicy
	v := plain(Defaults())
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = CloakingPolicy(v)
	return nil
}

// Validate checks that the policy can be evaluated.
func (p CloakingPolicy) Validate() error {
	switch p.BotAction {
	case FakePage, RedirectBots, BlockBots:
	default:
		return fmt.Errorf("%w: unknown bot_action %q", ErrMalformedPolicy, p.BotAction)
	}
	if p.RedirectURL == "" {
		return fmt.Errorf("%w: redirect_url is required", ErrMalformedPolicy)
	}
	for field, raw := range map[string]string{
		"redirect_url":         p.RedirectURL,
		"redirect_url_desktop": p.RedirectURLDesktop,
		"redirect_url_mobile":  p.RedirectURLMobile,
		"safe_redirect_url":    p.SafeRedirectURL,
		"bot_redirect_url":     p.BotRedirectURL,
	} {
		if raw == "" {
			continue
		}
		if !isHTTPURL(raw) {
			return fmt.Errorf("%w: %s is not an absolute http(s) url", ErrMalformedPolicy, field)
		}
	}
	return nil
}

// DestinationURL picks the real-user target for device.
func (p CloakingPolicy) DestinationURL(d Device) string {
	if p.UseSeparateURLs {
		switch {
		case d == Mobile && p.RedirectURLMobile != "":
			return p.RedirectURLMobile
		case d == Desktop && p.RedirectURLDesktop != "":
			return p.RedirectURLDesktop
		}
	}
	return p.RedirectURL
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
