// Package bridge wires the runtime onto a page: it captures attribution,
// waits for the widget to render, injects the consent checkbox, installs the
// outbound redaction filter, records the widget correlation id and attaches
// the click controller.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/formbridge/internal/consent"
	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/locator"
	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/redact"
	"github.com/ignite/formbridge/internal/registry"
	"github.com/ignite/formbridge/internal/submission"
	"github.com/ignite/formbridge/internal/tracking"
	"github.com/ignite/formbridge/internal/trigger"
)

// DefaultDebugKey is the local storage key holding the diagnostic flag.
const DefaultDebugKey = "wf_bridge_debug"

const syncBackoff = 50 * time.Millisecond

// Options configures Init. Config is required; everything else has a default.
type Options struct {
	Config           domain.BridgeConfig
	DebugKey         string
	Poll             locator.Policy
	EndpointPatterns []string
	// Registry receives the widget correlation id. When nil the bridge owns
	// a fresh registry and seals it once populated.
	Registry *registry.Registry
	Outcomes trigger.OutcomeSink
	Guard    trigger.Guard
	Clock    submission.Clock
	Now      func() time.Time
}

// Bridge is a bridge attached to one page.
type Bridge struct {
	Debug       bool
	Snapshot    domain.TrackingSnapshot
	Handles     locator.Handles
	Gate        *consent.Gate
	Coordinator *submission.Coordinator
	Controller  *trigger.Controller
	Registry    *registry.Registry
}

// Init runs the setup sequence. It blocks until the widget elements are found,
// the poll policy gives up or ctx is done.
func Init(ctx context.Context, w *page.Window, opts Options) (*Bridge, error) {
	log := logger.Named("bridge")
	cfg := opts.Config
	cfg.ApplyDefaults()
	doc := w.Document()

	b := &Bridge{Debug: debugEnabled(w, opts.DebugKey)}
	if b.Debug {
		logger.SetDebug(true)
		log.Debug("debug mode active", "page", w.Href())
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	b.Snapshot = tracking.Capture(w.Href(), w.Referrer(), now())
	log.Debug("tracking snapshot captured", "session_id", b.Snapshot.SessionID, "params", len(b.Snapshot.Params))

	loc := locator.New(doc, cfg.WidgetTargetID, cfg.ButtonSelector)
	if err := loc.Wait(ctx, opts.Poll, func(h locator.Handles) { b.Handles = h }); err != nil {
		return nil, fmt.Errorf("locating widget: %w", err)
	}

	gate, err := consent.Inject(doc, b.Handles.Button, cfg.ConsentText)
	if err != nil {
		return nil, fmt.Errorf("injecting consent: %w", err)
	}
	b.Gate = gate

	w.Use(redact.New(gate, opts.EndpointPatterns).Middleware())

	b.Registry = opts.Registry
	owned := b.Registry == nil
	if owned {
		b.Registry = registry.New()
	}
	if cid, ok := b.Snapshot.Param(domain.ParamWidgetCID); ok {
		if _, err := b.Registry.AttachCID(cfg.WidgetTargetID, cid); err != nil {
			log.Warn("could not record widget cid", "error", err.Error())
		}
		for _, el := range doc.QuerySelectorAll(`[class*="wf_target"]`) {
			el.SetAttr("data-wf-cid", cid)
		}
		log.Debug("widget cid recorded", "widget", cfg.WidgetTargetID, "cid", cid)
	}
	if owned {
		b.Registry.Seal()
	}

	scfg := submission.ConfigFrom(cfg)
	targetSink(doc, scfg)

	w.Navigator().SetSyncRetries(cfg.MaxRetries, syncBackoff)
	pg, tr := submission.Host(w)
	var copts []submission.Option
	if opts.Clock != nil {
		copts = append(copts, submission.WithClock(opts.Clock))
	}
	b.Coordinator = submission.New(pg, tr, scfg, copts...)

	topts := []trigger.Option{trigger.WithFormID(cfg.FormID)}
	if opts.Outcomes != nil {
		topts = append(topts, trigger.WithOutcomeSink(opts.Outcomes))
	}
	if opts.Guard != nil {
		topts = append(topts, trigger.WithGuard(opts.Guard))
	}
	b.Controller, err = trigger.Attach(b.Handles, gate, b.Coordinator, b.Snapshot, topts...)
	if err != nil {
		return nil, err
	}

	log.Info("bridge ready", "form_id", cfg.FormID, "widget", cfg.WidgetTargetID, "button", b.Handles.Button.Describe())
	return b, nil
}

// Close detaches the click controller and waits for attempts in flight.
func (b *Bridge) Close() {
	b.Controller.Detach()
	b.Controller.Wait()
}

// debugEnabled reads the diagnostic flag. ?debug=true turns it on and
// persists it for later page views.
func debugEnabled(w *page.Window, key string) bool {
	if key == "" {
		key = DefaultDebugKey
	}
	if loc := w.Location(); loc != nil && loc.Query().Get("debug") == "true" {
		w.StorageSet(key, "true")
	}
	v, _ := w.StorageGet(key)
	return v == "true"
}

// targetSink points a CRM form without a target at the sink frame so the
// native submission stays on the page.
func targetSink(doc *page.Document, cfg submission.Config) {
	form, ok := doc.Form(cfg.FormID)
	if !ok || form.Target() != "" {
		return
	}
	id := cfg.SinkID
	if id == "" {
		id = domain.DefaultSinkFrameID
	}
	sink := doc.GetElementByID(id)
	if sink == nil || sink.Tag() != "iframe" {
		return
	}
	name := sink.Name()
	if name == "" {
		name = id
		sink.SetAttr("name", name)
	}
	form.SetAttr("target", name)
}
