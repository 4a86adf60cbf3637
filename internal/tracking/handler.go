package tracking

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/formbridge/internal/domain"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventPublisher accepts delivery events for asynchronous storage.
type EventPublisher interface {
	Publish(ctx context.Context, evt DeliveryEvent)
}

// Handler receives outcome reports from deployed bridge scripts.
type Handler struct {
	pub EventPublisher
}

func NewHandler(pub EventPublisher) *Handler {
	return &Handler{pub: pub}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/track/delivery", h.HandleDelivery)
	r.Get("/track/delivery/{data}", h.HandleDeliveryPixel)
	return r
}

// HandleDelivery accepts a JSON event, or the form-encoded body a beacon sends.
func (h *Handler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	evt, ok := decodeDelivery(r)
	if !ok {
		http.Error(w, "bad event", http.StatusBadRequest)
		return
	}
	h.pub.Publish(r.Context(), evt)
	w.WriteHeader(http.StatusAccepted)
}

// HandleDeliveryPixel accepts a base64url JSON event in the path and always
// answers with the tracking pixel.
func (h *Handler) HandleDeliveryPixel(w http.ResponseWriter, r *http.Request) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(chi.URLParam(r, "data"), "="))
	if err == nil {
		var evt DeliveryEvent
		if json.Unmarshal(decoded, &evt) == nil && evt.FormID != "" {
			evt.Timestamp = time.Now().UTC()
			h.pub.Publish(r.Context(), evt)
		}
	}
	h.servePixel(w)
}

func decodeDelivery(r *http.Request) (DeliveryEvent, bool) {
	var evt DeliveryEvent
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil || json.Unmarshal(body, &evt) != nil {
			return evt, false
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return evt, false
		}
		evt.AttemptID = r.PostForm.Get("attempt_id")
		evt.FormID = r.PostForm.Get("form_id")
		evt.Channel = domain.Channel(r.PostForm.Get("channel"))
		evt.Outcome = domain.Outcome(r.PostForm.Get("outcome"))
		evt.Error = r.PostForm.Get("error")
		evt.SessionID = r.PostForm.Get("session_id")
		evt.DurationMS, _ = strconv.ParseInt(r.PostForm.Get("duration_ms"), 10, 64)
	}
	if evt.FormID == "" || evt.Outcome == "" {
		return evt, false
	}
	evt.Timestamp = time.Now().UTC()
	return evt, true
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}
