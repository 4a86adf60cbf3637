package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ignite/formbridge/internal/pkg/logger"
)

// MaxBodyBytes caps request bodies. Two pasted embed snippets fit well
// within it.
const MaxBodyBytes = 1 << 20

var log = logger.Named("httputil")

// ErrorResponse is the error envelope for every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("response encode failed", "status", status, "error", err.Error())
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error writes an error envelope with only a message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// Problem writes an error envelope carrying a machine-readable code and
// optional details, e.g. the list of values missing from a snippet.
func Problem(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// Script serves generated JavaScript. Bridges are re-fetched on every page
// load so a new version takes effect immediately.
func Script(w http.ResponseWriter, body []byte, version string) {
	h := w.Header()
	h.Set("Content-Type", "application/javascript; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache")
	if version != "" {
		h.Set("X-Bridge-Version", version)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Debug("script write aborted", "version", version, "error", err.Error())
	}
}

// Decode reads a JSON body of at most MaxBodyBytes into dst. On failure it
// writes a 400 (413 when the body is too large) and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Problem(w, http.StatusRequestEntityTooLarge, "body_too_large",
				"request body exceeds "+strconv.Itoa(MaxBodyBytes)+" bytes", nil)
			return false
		}
		Problem(w, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error(), nil)
		return false
	}
	return true
}
