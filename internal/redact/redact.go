// Package redact blanks the viewer's phone number from webinar widget
// registration requests when the visitor has not given SMS consent.
package redact

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// DefaultEndpointPatterns match the widget's registration endpoints.
var DefaultEndpointPatterns = []string{
	`embed\.webby\.app`,
	`webinarfuel\.com`,
	`d3pw37i36t41cq\.cloudfront\.net`,
	`api\.webinarfuel`,
}

// ConsentReader reports the live consent state.
type ConsentReader interface {
	Checked() bool
}

// Filter rewrites matching outbound requests. It never fails a request on its
// own: anything it cannot interpret is forwarded unchanged.
type Filter struct {
	consent  ConsentReader
	patterns []*regexp.Regexp
	log      *logger.Logger
}

// New compiles the endpoint patterns case-insensitively. Invalid patterns are
// skipped with a warning.
func New(consent ConsentReader, patterns []string) *Filter {
	if len(patterns) == 0 {
		patterns = DefaultEndpointPatterns
	}
	f := &Filter{consent: consent, log: logger.Named("redact")}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			f.log.Warn("skipping endpoint pattern", "pattern", p, "error", err.Error())
			continue
		}
		f.patterns = append(f.patterns, re)
	}
	return f
}

// Middleware returns the filter as a page network middleware.
func (f *Filter) Middleware() page.Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripper{f: f, next: next}
	}
}

type roundTripper struct {
	f    *Filter
	next http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.next.RoundTrip(rt.f.Apply(req))
}

// Matches reports whether req targets a widget endpoint with a data-submitting
// method.
func (f *Filter) Matches(req *http.Request) bool {
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	target := req.URL.String()
	for _, re := range f.patterns {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

// Apply returns the request to send: req itself when nothing changes, or a
// clone whose body has viewer.phone blanked.
func (f *Filter) Apply(req *http.Request) (out *http.Request) {
	if req.Body == nil || req.Body == http.NoBody || !f.Matches(req) {
		return req
	}
	if f.consent != nil && f.consent.Checked() {
		return req
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		f.log.Debug("reading widget request body", "error", err.Error())
		req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
		return req
	}
	original := req.Clone(req.Context())
	setBody(original, body)
	out = original

	defer func() {
		if r := recover(); r != nil {
			f.log.Warn("redaction aborted", "panic", r)
			out = original
		}
	}()

	rewritten, ok := blankViewerPhone(body)
	if !ok {
		return original
	}
	redacted := req.Clone(req.Context())
	setBody(redacted, rewritten)
	f.log.Debug("phone removed from widget request (no SMS consent)", "url", req.URL.Host+req.URL.Path)
	return redacted
}

// blankViewerPhone clears payload.viewer.phone. It reports false when the body
// is not a JSON object, has no viewer, or the phone is already empty.
func blankViewerPhone(body []byte) ([]byte, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	viewer, ok := payload["viewer"].(map[string]any)
	if !ok {
		return nil, false
	}
	phone, ok := viewer["phone"]
	if !ok || phone == nil || phone == "" {
		return nil, false
	}
	viewer["phone"] = ""
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	return out, true
}

func setBody(req *http.Request, body []byte) {
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
