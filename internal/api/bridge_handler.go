package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/formbridge/internal/codegen"
	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/extract"
	"github.com/ignite/formbridge/internal/pkg/httputil"
	"github.com/ignite/formbridge/internal/storage"
)

// GenerateRequest is the body of POST /api/bridges.
type GenerateRequest struct {
	WidgetSnippet string          `json:"widget_snippet"`
	CRMSnippet    string          `json:"crm_snippet"`
	Options       GenerateOptions `json:"options"`
}

// GenerateOptions override values scraped from the snippets.
type GenerateOptions struct {
	ButtonSelector string `json:"button_selector,omitempty"`
	TimeoutMS      int    `json:"timeout_ms,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
	ConsentText    string `json:"consent_text,omitempty"`
	CompanyName    string `json:"company_name,omitempty"`
	FormName       string `json:"form_name,omitempty"`
}

func (o GenerateOptions) apply(cfg *domain.BridgeConfig) {
	if s := strings.TrimSpace(o.ButtonSelector); s != "" {
		cfg.ButtonSelector = s
	}
	if o.TimeoutMS > 0 {
		cfg.PrimaryTimeout = o.TimeoutMS
	}
	if o.MaxRetries > 0 {
		cfg.MaxRetries = o.MaxRetries
	}
	if s := strings.TrimSpace(o.ConsentText); s != "" {
		cfg.ConsentText = s
	}
	if s := strings.TrimSpace(o.CompanyName); s != "" {
		cfg.CompanyName = s
	}
	if s := strings.TrimSpace(o.FormName); s != "" {
		cfg.FormName = s
	}
}

// GenerateResponse carries the generated package and, when persisted, the
// stored artifact.
type GenerateResponse struct {
	Package  *codegen.Package  `json:"package"`
	Artifact *storage.Artifact `json:"artifact,omitempty"`
}

// GenerateBridge extracts the configuration from both snippets and renders
// the bridge package.
//
//	POST /api/bridges
func (h *Handlers) GenerateBridge(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.WidgetSnippet) == "" || strings.TrimSpace(req.CRMSnippet) == "" {
		respondError(w, http.StatusBadRequest, "widget_snippet and crm_snippet are required")
		return
	}

	cfg, err := extract.FromSnippets(req.WidgetSnippet, req.CRMSnippet)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.defaultTimeoutMS > 0 {
		cfg.PrimaryTimeout = h.defaultTimeoutMS
	}
	req.Options.apply(&cfg)

	pkg, err := h.generator.Generate(req.WidgetSnippet, req.CRMSnippet, cfg)
	if errors.Is(err, extract.ErrMissingConfig) {
		httputil.Problem(w, http.StatusUnprocessableEntity, "missing_config",
			"could not extract a complete configuration", cfg.Problems())
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "")
		return
	}

	resp := GenerateResponse{Package: pkg}
	if h.store != nil {
		art, err := h.store.Save(r.Context(), cfg.FormID, pkg.Files(), pkg.Config)
		if errors.Is(err, storage.ErrInvalidKey) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			respondSafeError(w, http.StatusInternalServerError, err, "failed to store bridge artifact")
			return
		}
		resp.Artifact = &art
	}

	h.log.Info("bridge generated", "form_id", cfg.FormID, "widget_target_id", cfg.WidgetTargetID, "stored", resp.Artifact != nil)
	httputil.Created(w, resp)
}

// LatestBridge serves the most recent bridge script for a form. With
// ?format=json it returns the artifact record instead.
//
//	GET /api/bridges/{formID}/latest
func (h *Handlers) LatestBridge(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "artifact storage not configured")
		return
	}
	formID := chi.URLParam(r, "formID")

	art, err := h.store.Latest(r.Context(), formID)
	if !h.storageOK(w, err) {
		return
	}
	if r.URL.Query().Get("format") == "json" {
		httputil.OK(w, art)
		return
	}

	script, err := h.store.ReadFile(r.Context(), art, codegen.FileBridgeScript)
	if !h.storageOK(w, err) {
		return
	}
	httputil.Script(w, script, art.Version)
}

// BridgeVersions lists every stored version of a form's bridge.
//
//	GET /api/bridges/{formID}/versions
func (h *Handlers) BridgeVersions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "artifact storage not configured")
		return
	}
	formID := chi.URLParam(r, "formID")
	versions, err := h.store.Versions(r.Context(), formID)
	if !h.storageOK(w, err) {
		return
	}
	if len(versions) == 0 {
		respondError(w, http.StatusNotFound, "no bridge stored for "+formID)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"form_id":  formID,
		"versions": versions,
	})
}

// storageOK writes the response for a storage error and reports whether the
// handler may continue.
func (h *Handlers) storageOK(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrInvalidKey):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "bridge not found")
	default:
		respondSafeError(w, http.StatusInternalServerError, err, "")
	}
	return false
}
