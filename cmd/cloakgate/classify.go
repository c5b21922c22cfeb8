package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shortontech/cloakgate/internal/engine"
	"github.com/shortontech/cloakgate/internal/policy"
	"github.com/shortontech/cloakgate/internal/signals"
)

type classifyOptions struct {
	ua, ip, referer string
	headers         []string

	touch              int
	platform, renderer string

	botAction        string
	blockKnownBots   bool
	blockDataCenters bool
	redirectURL      string
	safeRedirectURL  string
	botRedirectURL   string
}

func newClassifyCmd(c *cli) *cobra.Command {
	o := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run one request through the engine offline and print the decision",
		Example: `  cloakgate classify --ua "Mozilla/5.0 AdsBot-Google"
  cloakgate classify --ua "... musical_ly" --touch 0 --platform "Linux x86_64" --renderer SwiftShader`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTables(c.cfg)
			if err != nil {
				return err
			}
			sig, err := o.signals(cmd, t.ProviderHeaders())
			if err != nil {
				return err
			}
			p := o.policy()
			if err := p.Validate(); err != nil {
				return err
			}

			d := engine.New(t, nil, nil, c.logger).Decide(cmd.Context(), sig, p)

			out, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to serialize decision: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.ua, "ua", "", "User-Agent header")
	f.StringVar(&o.ip, "ip", "203.0.113.10", "client IP")
	f.StringVar(&o.referer, "referer", "", "Referer header")
	f.StringArrayVarP(&o.headers, "header", "H", nil, `extra request header, "Name: value" (repeatable)`)
	f.IntVar(&o.touch, "touch", -1, "fingerprint maxTouchPoints; negative means no fingerprint")
	f.StringVar(&o.platform, "platform", "", "fingerprint navigator.platform")
	f.StringVar(&o.renderer, "renderer", "", "fingerprint WebGL renderer")
	f.StringVar(&o.botAction, "bot-action", string(policy.FakePage), "fake_page | redirect | block")
	f.BoolVar(&o.blockKnownBots, "block-known-bots", true, "treat user-agent bots as bots")
	f.BoolVar(&o.blockDataCenters, "block-data-centers", false, "treat hosting-provider addresses as bots")
	f.StringVar(&o.redirectURL, "redirect-url", "https://example.com/", "real-user destination")
	f.StringVar(&o.safeRedirectURL, "safe-redirect-url", "", "destination for platform verifiers")
	f.StringVar(&o.botRedirectURL, "bot-redirect-url", "", "destination for bots under --bot-action=redirect")
	_ = cmd.MarkFlagRequired("ua")
	return cmd
}

// signals builds a synthetic request so the descriptor goes through the
// same extraction as live traffic.
func (o *classifyOptions) signals(cmd *cobra.Command, providerHeaders []string) (signals.RequestSignals, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "/", nil)
	if err != nil {
		return signals.RequestSignals{}, err
	}
	req.RemoteAddr = o.ip
	req.Header.Set("User-Agent", o.ua)
	if o.referer != "" {
		req.Header.Set("Referer", o.referer)
	}
	for _, h := range o.headers {
		name, value, ok := cutHeader(h)
		if !ok {
			return signals.RequestSignals{}, fmt.Errorf("malformed --header %q, want \"Name: value\"", h)
		}
		req.Header.Add(name, value)
	}

	sig := signals.Extract(req, signals.Options{ProviderHeaders: providerHeaders})
	if o.touch >= 0 || o.platform != "" || o.renderer != "" {
		fp := &signals.FingerprintData{
			MaxTouchPoints: max(o.touch, 0),
			Platform:       o.platform,
			WebGLRenderer:  o.renderer,
		}
		sig = sig.WithFingerprint(fp)
	}
	return sig, nil
}

func (o *classifyOptions) policy() policy.CloakingPolicy {
	p := policy.Defaults()
	p.BotAction = policy.BotAction(o.botAction)
	p.BlockKnownBots = o.blockKnownBots
	p.BlockDataCenters = o.blockDataCenters
	p.RedirectURL = o.redirectURL
	p.SafeRedirectURL = o.safeRedirectURL
	p.BotRedirectURL = o.botRedirectURL
	return p
}

func cutHeader(h string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(h, ":")
	name = strings.TrimSpace(name)
	return name, strings.TrimSpace(value), ok && name != ""
}
