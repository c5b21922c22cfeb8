package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/classifier"
	"github.com/shortontech/cloakgate/internal/engine"
	"github.com/shortontech/cloakgate/internal/event"
	httpx "github.com/shortontech/cloakgate/internal/http"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/internal/policy"
	"github.com/shortontech/cloakgate/internal/reporter"
	"github.com/shortontech/cloakgate/internal/signals"
	"github.com/shortontech/cloakgate/internal/sink"
	"github.com/shortontech/cloakgate/internal/store"
)

// scenario is one canned request with the outcome it must produce.
type scenario struct {
	name   string
	ua     string
	ip     string
	fp     *signals.FingerprintData
	adjust func(*policy.CloakingPolicy)

	wantType   classifier.Type
	wantReason string
	wantAction policy.ActionKind
}

const (
	selftestResourceID = "00000000-0000-4000-8000-00000000c10a"
	socialAppUA        = "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0 Mobile Safari/537.36 musical_ly"
)

func selftestScenarios() []scenario {
	return []scenario{
		{
			name:       "A infrastructure verifier",
			ua:         "Mozilla/5.0 AdsBot-Google",
			ip:         "66.249.66.1",
			adjust:     func(p *policy.CloakingPolicy) { p.SafeRedirectURL = "https://example.com/safe" },
			wantType:   classifier.PlatformVerifier,
			wantReason: "infra_bot:adsbot",
			wantAction: policy.ActionSafeRedirect,
		},
		{
			name:       "B social app on a phone",
			ua:         socialAppUA,
			ip:         "203.0.113.7",
			fp:         &signals.FingerprintData{MaxTouchPoints: 5, Platform: "Linux armv8l", WebGLRenderer: "Adreno 640"},
			wantType:   classifier.RealUser,
			wantAction: policy.ActionRedirect,
		},
		{
			name:       "C social app on an emulator",
			ua:         socialAppUA,
			ip:         "203.0.113.7",
			fp:         &signals.FingerprintData{MaxTouchPoints: 0, Platform: "Linux x86_64", WebGLRenderer: "SwiftShader"},
			wantType:   classifier.Bot,
			wantReason: "platform_mismatch",
			wantAction: policy.ActionServeDecoy,
		},
		{
			name:       "D headless browser",
			ua:         "Selenium/HeadlessChrome",
			ip:         "203.0.113.7",
			adjust:     func(p *policy.CloakingPolicy) { p.BotAction = policy.BlockBots },
			wantType:   classifier.Bot,
			wantReason: "user_agent_match:headlesschrome",
			wantAction: policy.ActionBlock,
		},
		{
			name:       "E data-center address",
			ua:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ip:         "34.120.1.1",
			adjust:     func(p *policy.CloakingPolicy) { p.BlockDataCenters = true },
			wantType:   classifier.Bot,
			wantReason: "datacenter_ip",
			wantAction: policy.ActionServeDecoy,
		},
	}
}

func newSelftestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Replay the canned scenarios through the engine and the configured sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.selftest(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// selftestReporter marks events so they can be told apart from live traffic.
type selftestReporter struct {
	next engine.EventReporter
}

func (r selftestReporter) Report(ev event.Event) bool {
	ev.Type = event.TypeSelftest
	return r.next.Report(ev)
}

func (c *cli) selftest(ctx context.Context, out io.Writer) error {
	cfg, logger := c.cfg, c.logger
	m := metrics.NewMetrics(prometheus.NewRegistry())

	t, err := loadTables(cfg)
	if err != nil {
		return err
	}
	sinks, err := sink.FromConfig(cfg, logger, m)
	if err != nil {
		return err
	}
	rep := reporter.New(sinks, cfg.Reporter, m, logger)
	rep.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), reporterShutdownGrace)
		defer cancel()
		if err := rep.Close(closeCtx); err != nil {
			logger.Warn("selftest events not fully delivered", zap.Error(err))
		}
	}()

	eng := engine.New(t, selftestReporter{next: rep}, m, logger)
	ctx = engine.WithResource(ctx, selftestResourceID, "selftest")

	failed := 0
	for _, sc := range selftestScenarios() {
		p := policy.Defaults()
		p.RedirectURL = "https://example.com/landing"
		if sc.adjust != nil {
			sc.adjust(&p)
		}
		req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
		req.RemoteAddr = sc.ip
		req.Header.Set("User-Agent", sc.ua)
		sig := signals.Extract(req, signals.Options{ProviderHeaders: t.ProviderHeaders()}).WithFingerprint(sc.fp)

		d := eng.Decide(ctx, sig, p)
		ok := d.Result.Type == sc.wantType &&
			d.Result.ReasonCode() == sc.wantReason &&
			d.Action.Kind == sc.wantAction
		if !ok {
			failed++
		}
		fmt.Fprintf(out, "%s  %-30s type=%s reason=%q action=%s\n",
			mark(ok), sc.name, d.Result.Type, d.Result.ReasonCode(), d.Action.Kind)
	}

	status := selftestNotFound(ctx, cfg.VerifySecret, eng, logger)
	okF := status == http.StatusNotFound
	if !okF {
		failed++
	}
	fmt.Fprintf(out, "%s  %-30s status=%d\n", mark(okF), "F unknown resource id", status)

	if failed > 0 {
		return fmt.Errorf("selftest: %d scenario(s) failed", failed)
	}
	fmt.Fprintf(out, "all scenarios passed at %s\n", time.Now().UTC().Format(time.RFC3339))
	return nil
}

// selftestNotFound sends a 10-character id that matches nothing through the
// real router and returns the status it got.
func selftestNotFound(ctx context.Context, secret string, eng *engine.Engine, logger *zap.Logger) int {
	empty, _ := store.NewFileStore(nil)
	env := httpx.Env{
		Engine:   eng,
		Resolver: store.NewResolver(empty),
		Logger:   logger,
	}
	env.Cfg.VerifySecret = secret

	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/?cloaking=zz9Plural0", nil)
	w := httptest.NewRecorder()
	httpx.NewRouter(env).ServeHTTP(w, req)
	return w.Code
}

func mark(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
