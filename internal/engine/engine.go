// Package engine runs one request through classification and the policy
// switches, picks the action and hands the outcome to the reporter.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/classifier"
	"github.com/shortontech/cloakgate/internal/event"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/internal/policy"
	"github.com/shortontech/cloakgate/internal/signals"
	"github.com/shortontech/cloakgate/internal/tables"
)

// EventReporter accepts events without blocking.
type EventReporter interface {
	Report(ev event.Event) bool
}

// Decision is the full outcome for one request.
type Decision struct {
	Result classifier.Result `json:"classification"`
	Action policy.Action     `json:"action"`
	Device policy.Device     `json:"device"`
	Event  event.Event       `json:"-"`
}

type Engine struct {
	tables   *tables.Tables
	reporter EventReporter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New builds an engine. reporter and m may be nil.
func New(t *tables.Tables, reporter EventReporter, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{tables: t, reporter: reporter, metrics: m, logger: logger.Named("engine")}
}

// Tables returns the classification tables the engine was built with.
func (e *Engine) Tables() *tables.Tables { return e.tables }

// Decide classifies sig under p and dispatches the action. The event is
// reported in the background; Decide never waits on a sink.
func (e *Engine) Decide(ctx context.Context, sig signals.RequestSignals, p policy.CloakingPolicy) Decision {
	start := time.Now()

	res := e.Evaluate(sig, p)
	dev := policy.DeviceFromUserAgent(sig.RawUserAgent)
	act := policy.Dispatch(res, p, dev)

	e.metrics.ObserveClassify(start)
	e.metrics.IncrementClassification(string(res.Type), string(res.Reason.Kind))
	e.metrics.IncrementAction(string(act.Kind))

	ev := event.New(sig, res, act, dev)
	if r, ok := resourceFrom(ctx); ok {
		ev = ev.WithResource(r.id, r.slug)
	}
	if e.reporter != nil && !e.reporter.Report(ev) {
		e.logger.Debug("decision event dropped", zap.String("event_id", ev.EventID))
	}

	if ce := e.logger.Check(zap.DebugLevel, "decision"); ce != nil {
		ce.Write(
			zap.String("event_id", ev.EventID),
			zap.String("type", string(res.Type)),
			zap.String("reason", res.ReasonCode()),
			zap.String("action", string(act.Kind)),
			zap.String("ip", sig.ClientIP))
	}

	return Decision{Result: res, Action: act, Device: dev, Event: ev}
}

// Evaluate is Classify plus the per-policy switches:
//
//   - block_data_centers turns a real_user on a hosting-provider address
//     into a bot, unless the address is a Cloudflare edge.
//   - block_known_bots=false lets bots matched only by user agent through.
//     Fingerprint and mismatch reasons are always enforced.
func (e *Engine) Evaluate(sig signals.RequestSignals, p policy.CloakingPolicy) classifier.Result {
	res := classifier.Classify(sig, e.tables)
	res.Evidence.DatacenterIP = e.tables.IsDatacenterIP(sig.ClientIP)
	res.Evidence.CloudflareIP = e.tables.IsCloudflareIP(sig.ClientIP)

	if !p.BlockKnownBots && res.Type == classifier.Bot && res.Reason.Kind == classifier.ReasonUserAgentMatch {
		res.Type = classifier.RealUser
		res.Reason = classifier.Reason{}
		res.Evidence.AllowedKnownBot = true
	}

	if res.Type == classifier.RealUser && p.BlockDataCenters &&
		res.Evidence.DatacenterIP && !res.Evidence.CloudflareIP {
		res.Type = classifier.Bot
		res.Reason = classifier.Reason{Kind: classifier.ReasonDatacenterIP}
	}
	return res
}

type resourceKey struct{}

type resourceTag struct {
	id, slug string
}

// WithResource tags ctx so that events from Decide name the resource.
func WithResource(ctx context.Context, id, slug string) context.Context {
	return context.WithValue(ctx, resourceKey{}, resourceTag{id: id, slug: slug})
}

func resourceFrom(ctx context.Context) (resourceTag, bool) {
	r, ok := ctx.Value(resourceKey{}).(resourceTag)
	return r, ok
}
