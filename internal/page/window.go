package page

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Lifecycle event types dispatched on the window.
const (
	EventVisibilityChange = "visibilitychange"
	EventPageHide         = "pagehide"
	EventBeforeUnload     = "beforeunload"
)

// Middleware wraps the window's outgoing transport.
type Middleware func(http.RoundTripper) http.RoundTripper

// Options configures a Window.
type Options struct {
	URL       string
	Referrer  string
	Transport http.RoundTripper
	// AlertFunc observes blocking alerts; the window always records them.
	AlertFunc func(string)
	// LocalStorage seeds the window's local storage.
	LocalStorage map[string]string
}

// Window is the browsing context hosting a Document.
type Window struct {
	mu         sync.RWMutex
	location   *url.URL
	referrer   string
	hidden     bool
	unloaded   bool
	storage    map[string]string
	alerts     []string
	alertFunc  func(string)
	base       http.RoundTripper
	middleware []Middleware
	listeners  listenerSet
	inflight   sync.WaitGroup

	doc       *Document
	navigator *Navigator
}

// Load parses markup and attaches it to a new window.
func Load(markup string, opts Options) (*Window, error) {
	doc, err := ParseDocument(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	return NewWindow(doc, opts)
}

// NewWindow attaches doc to a new window.
func NewWindow(doc *Document, opts Options) (*Window, error) {
	w := &Window{
		referrer:  opts.Referrer,
		storage:   make(map[string]string),
		alertFunc: opts.AlertFunc,
		base:      opts.Transport,
		doc:       doc,
	}
	if opts.URL != "" {
		u, err := url.Parse(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing page url: %w", err)
		}
		w.location = u
	}
	if w.base == nil {
		w.base = http.DefaultTransport
	}
	for k, v := range opts.LocalStorage {
		w.storage[k] = v
	}
	doc.window = w
	w.navigator = newNavigator(w)
	return w, nil
}

// Document returns the hosted document.
func (w *Window) Document() *Document { return w.doc }

// Navigator returns the window's backup transports.
func (w *Window) Navigator() *Navigator { return w.navigator }

// Location returns the page URL, or nil when none was given.
func (w *Window) Location() *url.URL {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.location == nil {
		return nil
	}
	u := *w.location
	return &u
}

// Href returns the page URL as a string.
func (w *Window) Href() string {
	if u := w.Location(); u != nil {
		return u.String()
	}
	return ""
}

// Referrer returns document.referrer.
func (w *Window) Referrer() string { return w.referrer }

// StorageGet reads a local storage key.
func (w *Window) StorageGet(key string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.storage[key]
	return v, ok
}

// StorageSet writes a local storage key.
func (w *Window) StorageSet(key, value string) {
	w.mu.Lock()
	w.storage[key] = value
	w.mu.Unlock()
}

// StorageRemove deletes a local storage key.
func (w *Window) StorageRemove(key string) {
	w.mu.Lock()
	delete(w.storage, key)
	w.mu.Unlock()
}

// Alert shows a blocking message to the user.
func (w *Window) Alert(msg string) {
	w.mu.Lock()
	w.alerts = append(w.alerts, msg)
	fn := w.alertFunc
	w.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Alerts returns every alert shown so far.
func (w *Window) Alerts() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.alerts...)
}

// Hidden reports document.visibilityState == "hidden".
func (w *Window) Hidden() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hidden
}

// Hide moves the page to the background: visibilitychange then pagehide.
func (w *Window) Hide() {
	w.mu.Lock()
	already := w.hidden
	w.hidden = true
	w.mu.Unlock()
	if already {
		return
	}
	w.dispatch(EventVisibilityChange)
	w.dispatch(EventPageHide)
}

// Show brings a hidden page back to the foreground.
func (w *Window) Show() {
	w.mu.Lock()
	changed := w.hidden
	w.hidden = false
	w.mu.Unlock()
	if changed {
		w.dispatch(EventVisibilityChange)
	}
}

// Unload runs the navigation-away sequence once: beforeunload, then the page
// is hidden.
func (w *Window) Unload() {
	w.mu.Lock()
	if w.unloaded {
		w.mu.Unlock()
		return
	}
	w.unloaded = true
	w.mu.Unlock()
	w.dispatch(EventBeforeUnload)
	w.Hide()
}

// AddEventListener registers a window-level listener.
func (w *Window) AddEventListener(typ string, fn Listener) func() {
	return w.listeners.addGlobal(&listenerEntry{typ: typ, fn: fn})
}

// ListenerCount reports how many window-level listeners are registered.
func (w *Window) ListenerCount() int { return w.listeners.count() }

func (w *Window) dispatch(typ string) {
	ev := &Event{Type: typ}
	invoke(w.listeners.global(typ), ev, nil)
}

// Use appends a middleware to the outgoing network chain. The first
// registered middleware sees requests first.
func (w *Window) Use(mw Middleware) {
	w.mu.Lock()
	w.middleware = append(w.middleware, mw)
	w.mu.Unlock()
}

// Transport returns the base transport wrapped by every registered middleware.
func (w *Window) Transport() http.RoundTripper {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rt := w.base
	for i := len(w.middleware) - 1; i >= 0; i-- {
		rt = w.middleware[i](rt)
	}
	return rt
}

// Client returns an HTTP client using the middleware chain.
func (w *Window) Client() *http.Client {
	return &http.Client{Transport: w.Transport()}
}

// Fetch sends req through the middleware chain, like window.fetch.
func (w *Window) Fetch(req *http.Request) (*http.Response, error) {
	return w.Client().Do(req)
}

// Wait blocks until every background request started by the page finished.
func (w *Window) Wait() { w.inflight.Wait() }

func (w *Window) track(fn func()) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		fn()
	}()
}
