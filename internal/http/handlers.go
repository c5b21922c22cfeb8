package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/assets"
	"github.com/shortontech/cloakgate/internal/engine"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/internal/policy"
	"github.com/shortontech/cloakgate/internal/signals"
	"github.com/shortontech/cloakgate/internal/store"
	"github.com/shortontech/cloakgate/pkg/config"
)

const previewHeader = "X-Cloak-Preview"

// Env carries the handler dependencies.
type Env struct {
	Cfg      config.Config
	Engine   *engine.Engine
	Resolver *store.Resolver
	// Ready is pinged by /readyz. Nil means always ready.
	Ready    store.Pinger
	Verifier *Verifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := e.Ready.Ping(ctx); err != nil {
			e.Logger.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Serve is the browser-facing path: it answers with redirects, decoy HTML
// or a block.
func (e Env) Serve(w http.ResponseWriter, r *http.Request) {
	res, ok := e.resolve(w, r)
	if !ok {
		return
	}
	if e.previewRequested(r) {
		w.Header().Set(previewHeader, "bot")
		writeAction(w, r, previewAction(res.Policy))
		return
	}

	sig := signals.Extract(r, e.signalOptions())
	d := e.Engine.Decide(engine.WithResource(r.Context(), res.ID, res.Slug), sig, res.Policy)
	writeAction(w, r, d.Action)
}

// ReportResponse is the JSON answer of the reporting path.
type ReportResponse struct {
	Action policy.ActionKind `json:"action"`
	URL    string            `json:"url,omitempty"`
	HTML   string            `json:"html,omitempty"`
}

// Report is the scripted path: the page POSTs a client fingerprint and
// gets the action back as JSON instead of a redirect.
func (e Env) Report(w http.ResponseWriter, r *http.Request) {
	res, ok := e.resolve(w, r)
	if !ok {
		return
	}
	if e.previewRequested(r) {
		w.Header().Set(previewHeader, "bot")
		writeJSON(w, http.StatusOK, reportResponse(previewAction(res.Policy)))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorPage(w, r, http.StatusRequestEntityTooLarge)
			return
		}
		writeErrorPage(w, r, http.StatusBadRequest)
		return
	}

	sig := signals.Extract(r, e.signalOptions())
	if len(body) > 0 {
		fp, err := signals.ParseFingerprint(body)
		if err != nil {
			e.Logger.Debug("rejecting fingerprint", zap.Error(err))
			writeErrorPage(w, r, http.StatusBadRequest)
			return
		}
		sig = sig.WithFingerprint(fp)
	}

	d := e.Engine.Decide(engine.WithResource(r.Context(), res.ID, res.Slug), sig, res.Policy)
	writeJSON(w, http.StatusOK, reportResponse(d.Action))
}

// resolve handles everything before classification: verify tokens, lookup
// failures and malformed policies. ok is false once a response is written.
func (e Env) resolve(w http.ResponseWriter, r *http.Request) (store.Resource, bool) {
	id := resourceID(r)

	if token, isVerify := verifyToken(id); isVerify {
		if token == "" {
			writeErrorPage(w, r, http.StatusBadRequest)
			return store.Resource{}, false
		}
		writeJSON(w, http.StatusOK, e.Verifier.Payload(token))
		return store.Resource{}, false
	}

	res, err := e.Resolver.Resolve(r.Context(), id)
	if err != nil {
		e.writeLookupError(w, r, err)
		return store.Resource{}, false
	}
	if err := res.Policy.Validate(); err != nil {
		e.Logger.Warn("malformed policy", zap.String("resource_id", res.ID), zap.Error(err))
		writeErrorPage(w, r, http.StatusNotFound)
		return store.Resource{}, false
	}
	return res, true
}

func (e Env) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidID):
		writeErrorPage(w, r, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, policy.ErrMalformedPolicy):
		writeErrorPage(w, r, http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		e.Logger.Warn("policy lookup unavailable", zap.Error(err), zap.String("fail_mode", string(e.Cfg.FailMode)))
		if e.Cfg.FailMode == config.FailClosed {
			writeBlocked(w, r)
			return
		}
		writeErrorPage(w, r, http.StatusServiceUnavailable)
	default:
		e.Logger.Error("policy lookup failed", zap.Error(err))
		writeErrorPage(w, r, http.StatusInternalServerError)
	}
}

func (e Env) previewRequested(r *http.Request) bool {
	return e.Cfg.AllowPreview && r.URL.Query().Get("preview") == "bot"
}

func (e Env) signalOptions() signals.Options {
	return signals.Options{
		TrustProxy:      e.Cfg.TrustProxy,
		EdgeIPHeader:    e.Cfg.EdgeIPHeader,
		ProviderHeaders: e.Engine.Tables().ProviderHeaders(),
	}
}

// resourceID reads ?cloaking=, falling back to ?page=.
func resourceID(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("cloaking"); id != "" {
		return id
	}
	return q.Get("page")
}

func previewAction(p policy.CloakingPolicy) policy.Action {
	return policy.Action{Kind: policy.ActionServeDecoy, Status: http.StatusOK, HTML: policy.RenderDecoy(p)}
}

func reportResponse(a policy.Action) ReportResponse {
	return ReportResponse{Action: a.Kind, URL: a.URL, HTML: string(a.HTML)}
}

func writeAction(w http.ResponseWriter, r *http.Request, a policy.Action) {
	w.Header().Set("Cache-Control", "no-store")
	switch a.Kind {
	case policy.ActionRedirect, policy.ActionSafeRedirect:
		w.Header().Set("Location", a.URL)
		w.WriteHeader(http.StatusFound)
	case policy.ActionServeDecoy:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(a.HTML)
		}
	default:
		writeBlocked(w, r)
	}
}

func writeBlocked(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte("Forbidden\n"))
	}
}

func writeErrorPage(w http.ResponseWriter, r *http.Request, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(assets.ErrorPage(status))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
