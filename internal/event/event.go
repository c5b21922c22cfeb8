package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"github.com/shortontech/cloakgate/internal/classifier"
	"github.com/shortontech/cloakgate/internal/policy"
	"github.com/shortontech/cloakgate/internal/signals"
)

// Event types.
const (
	TypeDecision = "decision"
	TypeSelftest = "selftest"
)

// Event is the record handed to the sinks after every decision. Optional
// fields are omitted when empty.
type Event struct {
	EventID string `json:"event_id"`
	TS      string `json:"ts"` // RFC3339Nano, UTC
	Type    string `json:"type"`

	Resource ResourceInfo        `json:"resource,omitempty"`
	Decision DecisionInfo        `json:"decision"`
	Request  RequestInfo         `json:"request"`
	Device   DeviceInfo          `json:"device,omitempty"`
	Evidence classifier.Evidence `json:"evidence"`
}

// --- Resource ---

type ResourceInfo struct {
	ID   string `json:"id,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// --- Decision ---

type DecisionInfo struct {
	Classification classifier.Type   `json:"classification"`
	Reason         string            `json:"reason,omitempty"`
	Action         policy.ActionKind `json:"action"`
	Status         int               `json:"status"`
	URL            string            `json:"url,omitempty"`
	Preview        bool              `json:"preview,omitempty"`
}

// --- Request ---

type RequestInfo struct {
	IP              string                   `json:"ip"`
	UserAgent       string                   `json:"ua,omitempty"`
	Referer         string                   `json:"referer,omitempty"`
	ProviderHeaders map[string]string        `json:"provider_headers,omitempty"`
	Fingerprint     *signals.FingerprintData `json:"fingerprint,omitempty"`
	Anomalies       signals.Anomalies        `json:"anomalies"`
}

// --- Device ---

type DeviceInfo struct {
	Type           policy.Device `json:"type,omitempty"`
	Browser        string        `json:"browser,omitempty"`
	BrowserVersion string        `json:"browser_version,omitempty"`
	OS             string        `json:"os,omitempty"`
	Platform       string        `json:"platform,omitempty"`
	UABot          bool          `json:"ua_bot,omitempty"`
}

// New builds a decision event from one pass through the engine.
func New(sig signals.RequestSignals, res classifier.Result, act policy.Action, dev policy.Device) Event {
	return Event{
		EventID: uuid.NewString(),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Type:    TypeDecision,
		Decision: DecisionInfo{
			Classification: res.Type,
			Reason:         res.ReasonCode(),
			Action:         act.Kind,
			Status:         act.Status,
			URL:            act.URL,
		},
		Request: RequestInfo{
			IP:              sig.ClientIP,
			UserAgent:       sig.RawUserAgent,
			Referer:         sig.Referer,
			ProviderHeaders: sig.ProviderHeaders,
			Fingerprint:     sig.Fingerprint,
			Anomalies:       sig.Anomalies,
		},
		Device:   parseDevice(sig.RawUserAgent, dev),
		Evidence: res.Evidence,
	}
}

// WithResource tags the event with the resolved cloaking resource.
func (e Event) WithResource(id, slug string) Event {
	e.Resource = ResourceInfo{ID: id, Slug: slug}
	return e
}

func parseDevice(rawUA string, dev policy.Device) DeviceInfo {
	info := DeviceInfo{Type: dev}
	if rawUA == "" {
		return info
	}
	ua := useragent.New(rawUA)
	info.Browser, info.BrowserVersion = ua.Browser()
	info.OS = ua.OS()
	info.Platform = ua.Platform()
	info.UABot = ua.Bot()
	return info
}
