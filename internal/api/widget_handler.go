package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/pkg/httputil"
	"github.com/ignite/formbridge/internal/registry"
)

// ScheduleResponse is returned by the widget schedule accessor. Schedule is
// nil when the instance has no usable start time.
type ScheduleResponse struct {
	ID        string     `json:"id"`
	Schedule  *time.Time `json:"schedule"`
	Formatted string     `json:"formatted,omitempty"`
}

// PutWidgetRequest is the body of PUT /api/widgets/{id}.
type PutWidgetRequest struct {
	CID      string `json:"cid"`
	Schedule string `json:"schedule"`
}

// ListWidgets returns every registered instance in registration order.
//
//	GET /api/widgets
func (h *Handlers) ListWidgets(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"widgets": h.registry.All(),
	})
}

// WidgetSchedule reports the scheduled start of a widget instance. The
// optional ?layout= query overrides the display layout.
//
//	GET /api/widgets/{id}/schedule
func (h *Handlers) WidgetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.Get(id); !ok {
		respondError(w, http.StatusNotFound, "widget not found")
		return
	}

	resp := ScheduleResponse{ID: id}
	if t, ok := h.registry.Schedule(id); ok {
		resp.Schedule = &t
		resp.Formatted = registry.Format(t, r.URL.Query().Get("layout"))
	}
	httputil.OK(w, resp)
}

// PutWidget registers a widget instance or merges cid and schedule into the
// existing one.
//
//	PUT /api/widgets/{id}
func (h *Handlers) PutWidget(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req PutWidgetRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Schedule != "" {
		if _, err := registry.ParseSchedule(req.Schedule); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	inst, err := h.registry.Register(domain.WidgetInstance{ID: id, CID: req.CID, Schedule: req.Schedule})
	switch {
	case errors.Is(err, registry.ErrSealed):
		respondError(w, http.StatusConflict, "widget registry is read-only")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.OK(w, inst)
}
