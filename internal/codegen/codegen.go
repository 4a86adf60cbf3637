// Package codegen renders the deployable bridge artifact: the bridge script,
// the CRM helper tags, the hidden CRM form with its sink frame and the
// assembled HTML page.
package codegen

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/extract"
	"github.com/ignite/formbridge/internal/locator"
	"github.com/ignite/formbridge/internal/redact"
)

//go:embed templates/*.liquid
var templateFS embed.FS

// ErrRender wraps template execution failures.
var ErrRender = errors.New("codegen: render failed")

const (
	tplBridge   = "bridge.js.liquid"
	tplHelpers  = "helpers.html.liquid"
	tplSink     = "sink.html.liquid"
	tplPage     = "page.html.liquid"
	tplCRMBlock = "crm_block.html.liquid"

	// DefaultSinkName is the browsing-context name CRM forms post into.
	DefaultSinkName = "inf_sink"
	// DefaultDebugKey is the local storage key holding the diagnostic flag.
	DefaultDebugKey = "wf_bridge_debug"
)

// Options tunes the runtime baked into the bridge script.
type Options struct {
	DebugKey         string
	EndpointPatterns []string
	Poll             locator.Policy
	SinkID           string
	SinkName         string
}

func (o Options) withDefaults() Options {
	if o.DebugKey == "" {
		o.DebugKey = DefaultDebugKey
	}
	if len(o.EndpointPatterns) == 0 {
		o.EndpointPatterns = redact.DefaultEndpointPatterns
	}
	d := locator.DefaultPolicy()
	if o.Poll.Attempts <= 0 {
		o.Poll.Attempts = d.Attempts
	}
	if o.Poll.Interval <= 0 {
		o.Poll.Interval = d.Interval
	}
	if o.SinkID == "" {
		o.SinkID = domain.DefaultSinkFrameID
	}
	if o.SinkName == "" {
		o.SinkName = DefaultSinkName
	}
	return o
}

// Package is everything a page owner pastes into their site.
type Package struct {
	Config            domain.BridgeConfig `json:"config"`
	WidgetEmbed       string              `json:"widget_embed"`
	CRMHiddenForm     string              `json:"crm_hidden_form"`
	CRMHelpers        string              `json:"crm_helpers"`
	BridgeScript      string              `json:"bridge_script"`
	CompleteHTML      string              `json:"complete_html"`
	CRMFormWithScript string              `json:"crm_form_with_script"`
	GeneratedAt       time.Time           `json:"generated_at"`
}

// Artifact file names used by Files.
const (
	FileBridgeScript  = "bridge.js"
	FileCompletePage  = "complete.html"
	FileWidgetEmbed   = "widget_embed.html"
	FileCRMForm       = "crm_form.html"
	FileCRMWithScript = "crm_form_with_script.html"
	FileCRMHelpers    = "crm_helpers.html"
)

// Files maps artifact file names to their contents. The helpers file is
// omitted when there are no helpers.
func (p *Package) Files() map[string]string {
	files := map[string]string{
		FileBridgeScript:  p.BridgeScript,
		FileCompletePage:  p.CompleteHTML,
		FileWidgetEmbed:   p.WidgetEmbed,
		FileCRMForm:       p.CRMHiddenForm,
		FileCRMWithScript: p.CRMFormWithScript,
	}
	if p.CRMHelpers != "" {
		files[FileCRMHelpers] = p.CRMHelpers
	}
	return files
}

// Generator renders artifacts from parsed templates.
type Generator struct {
	engine    *liquid.Engine
	templates map[string]*liquid.Template
	opts      Options
	now       func() time.Time
}

// New parses the embedded templates once.
func New(opts Options) (*Generator, error) {
	engine := liquid.NewEngine()
	registerFilters(engine)

	g := &Generator{
		engine:    engine,
		templates: make(map[string]*liquid.Template),
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
	for _, name := range []string{tplBridge, tplHelpers, tplSink, tplPage, tplCRMBlock} {
		src, err := templateFS.ReadFile("templates/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		tpl, err := engine.ParseTemplate(src)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		g.templates[name] = tpl
	}
	return g, nil
}

func registerFilters(engine *liquid.Engine) {
	// {{ config | to_json }}
	engine.RegisterFilter("to_json", func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	})
	// {{ config.form_id | form_xid }}
	engine.RegisterFilter("form_xid", func(s string) string {
		return strings.TrimPrefix(s, "inf_form_")
	})
}

// Generate validates cfg and renders the full package.
func (g *Generator) Generate(widgetSnippet, crmSnippet string, cfg domain.BridgeConfig) (*Package, error) {
	if err := extract.Validate(cfg); err != nil {
		return nil, err
	}
	now := g.now().UTC()

	script, err := g.bridgeScript(cfg, now)
	if err != nil {
		return nil, err
	}
	helpers, err := g.Helpers(cfg)
	if err != nil {
		return nil, err
	}
	crmForm, err := g.WithSinkFrame(crmSnippet)
	if err != nil {
		return nil, err
	}
	widget := strings.TrimSpace(widgetSnippet)

	assembly := liquid.Bindings{
		"config":        configBindings(cfg, g.opts.SinkID),
		"widget_embed":  widget,
		"crm_form":      crmForm,
		"helpers":       helpers,
		"bridge_script": script,
	}
	page, err := g.render(tplPage, assembly)
	if err != nil {
		return nil, err
	}
	block, err := g.render(tplCRMBlock, assembly)
	if err != nil {
		return nil, err
	}

	return &Package{
		Config:            cfg,
		WidgetEmbed:       widget,
		CRMHiddenForm:     crmForm,
		CRMHelpers:        helpers,
		BridgeScript:      script,
		CompleteHTML:      page,
		CRMFormWithScript: block,
		GeneratedAt:       now,
	}, nil
}

// BridgeScript renders only the bridge script.
func (g *Generator) BridgeScript(cfg domain.BridgeConfig) (string, error) {
	return g.bridgeScript(cfg, g.now().UTC())
}

func (g *Generator) bridgeScript(cfg domain.BridgeConfig, now time.Time) (string, error) {
	return g.render(tplBridge, liquid.Bindings{
		"generated_at":      now.Format(time.RFC3339),
		"config":            configBindings(cfg, g.opts.SinkID),
		"debug_key":         g.opts.DebugKey,
		"endpoint_patterns": g.opts.EndpointPatterns,
		"poll_attempts":     g.opts.Poll.Attempts,
		"poll_interval_ms":  g.opts.Poll.Interval.Milliseconds(),
	})
}

// Helpers renders the CRM's tracking and timezone script tags. It is empty
// when the CRM subdomain is unknown.
func (g *Generator) Helpers(cfg domain.BridgeConfig) (string, error) {
	out, err := g.render(tplHelpers, liquid.Bindings{"config": configBindings(cfg, g.opts.SinkID)})
	return strings.TrimSpace(out), err
}

// WithSinkFrame prepends the hidden sink iframe unless the snippet already
// declares one.
func (g *Generator) WithSinkFrame(crmSnippet string) (string, error) {
	crm := strings.TrimSpace(crmSnippet)
	if strings.Contains(crm, g.opts.SinkID) {
		return crm, nil
	}
	frame, err := g.render(tplSink, liquid.Bindings{"sink_id": g.opts.SinkID, "sink_name": g.opts.SinkName})
	if err != nil {
		return "", err
	}
	return frame + crm, nil
}

func (g *Generator) render(name string, b liquid.Bindings) (string, error) {
	out, err := g.templates[name].RenderString(b)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRender, name, err)
	}
	return out, nil
}

// configBindings exposes cfg to templates under its JSON field names.
func configBindings(cfg domain.BridgeConfig, sinkID string) map[string]interface{} {
	tracking := make([]interface{}, len(cfg.TrackingFields))
	for i, f := range cfg.TrackingFields {
		tracking[i] = f
	}
	return map[string]interface{}{
		"widget_target_id": cfg.WidgetTargetID,
		"widget_id":        cfg.WidgetID,
		"form_id":          cfg.FormID,
		"action_url":       cfg.ActionURL,
		"subdomain":        cfg.Subdomain,
		"consent_field": map[string]interface{}{
			"id":    cfg.Consent.ID,
			"name":  cfg.Consent.Name,
			"value": cfg.Consent.Value,
			"type":  cfg.Consent.Type,
		},
		"consent_text":    cfg.ConsentText,
		"company_name":    cfg.CompanyName,
		"form_name":       cfg.FormName,
		"tracking_fields": tracking,
		"button_selector": cfg.ButtonSelector,
		"timeout_ms":      cfg.PrimaryTimeout,
		"max_retries":     cfg.MaxRetries,
		"sink_id":         sinkID,
	}
}
