package submission

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	fn      func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers one at a time in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.fired && !t.stopped && !t.at.After(c.now) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		c.mu.Unlock()
		next.fn()
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeField struct {
	mu       sync.Mutex
	name     string
	value    string
	checkbox bool
	checked  bool
}

func (f *fakeField) Name() string { return f.name }

func (f *fakeField) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fakeField) SetValue(v string) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func (f *fakeField) Checked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked
}

func (f *fakeField) SetChecked(v bool) {
	f.mu.Lock()
	f.checked = v
	f.mu.Unlock()
}

type fakeForm struct {
	mu        sync.Mutex
	action    string
	byID      map[string]*fakeField
	order     []*fakeField
	submitErr error
	submits   int
}

func newFakeForm(action string) *fakeForm {
	return &fakeForm{action: action, byID: make(map[string]*fakeField)}
}

func (f *fakeForm) add(id, name string, checkbox bool) *fakeField {
	fld := &fakeField{name: name, checkbox: checkbox}
	if checkbox {
		fld.value = "on"
	}
	f.byID[id] = fld
	f.order = append(f.order, fld)
	return fld
}

func (f *fakeForm) Action() string { return f.action }

func (f *fakeForm) Field(key string) (Field, bool) {
	if fld, ok := f.byID[key]; ok {
		return fld, true
	}
	for _, fld := range f.order {
		if fld.name == key {
			return fld, true
		}
	}
	return nil, false
}

func (f *fakeForm) Values() url.Values {
	v := url.Values{}
	for _, fld := range f.order {
		if fld.name == "" || (fld.checkbox && !fld.Checked()) {
			continue
		}
		v.Add(fld.name, fld.Value())
	}
	return v
}

func (f *fakeForm) Submit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.submitErr
}

func (f *fakeForm) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// hookList records listeners, including ones already removed, so tests can
// replay late signals.
type hookList struct {
	mu          sync.Mutex
	next        int
	active      map[int]func(string)
	all         []func(string)
	removeCalls int
}

func (h *hookList) add(fn func(string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		h.active = make(map[int]func(string))
	}
	id := h.next
	h.next++
	h.active[id] = fn
	h.all = append(h.all, fn)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removeCalls++
		delete(h.active, id)
	}
}

func (h *hookList) fire(ev string) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.active))
	for id := range h.active {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.active[id])
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// replay invokes every listener ever registered, removed or not.
func (h *hookList) replay(ev string) {
	h.mu.Lock()
	fns := slices.Clone(h.all)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (h *hookList) activeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

func (h *hookList) registered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.all)
}

func (h *hookList) removals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeCalls
}

type fakeSignal struct {
	load, err *hookList
}

func (s *fakeSignal) OnLoad(fn func()) func()  { return s.load.add(func(string) { fn() }) }
func (s *fakeSignal) OnError(fn func()) func() { return s.err.add(func(string) { fn() }) }

type fakePage struct {
	forms     map[string]*fakeForm
	sink      *fakeSignal
	lifecycle *hookList
	hidden    atomic.Bool
}

func newFakePage() *fakePage {
	return &fakePage{
		forms:     make(map[string]*fakeForm),
		sink:      &fakeSignal{load: &hookList{}, err: &hookList{}},
		lifecycle: &hookList{},
	}
}

func (p *fakePage) Form(id string) (Form, bool) {
	f, ok := p.forms[id]
	if !ok {
		return nil, false
	}
	return f, true
}

func (p *fakePage) Sink(id string) (Signal, bool) {
	if p.sink == nil || id != "inf_sink_iframe" {
		return nil, false
	}
	return p.sink, true
}

func (p *fakePage) Hidden() bool { return p.hidden.Load() }

func (p *fakePage) OnLifecycle(fn func(string)) func() { return p.lifecycle.add(fn) }

func (p *fakePage) hide() {
	p.hidden.Store(true)
	p.lifecycle.fire("visibilitychange")
	p.lifecycle.fire("pagehide")
}

type fakeTransport struct {
	mu           sync.Mutex
	beaconOK     bool
	keepaliveErr error
	syncErr      error
	calls        []string
	sent         []url.Values
}

func (t *fakeTransport) record(name string, data url.Values) {
	t.mu.Lock()
	t.calls = append(t.calls, name)
	t.sent = append(t.sent, data)
	t.mu.Unlock()
}

func (t *fakeTransport) Beacon(_ string, data url.Values) bool {
	t.record("beacon", data)
	return t.beaconOK
}

func (t *fakeTransport) Keepalive(_ context.Context, _ string, data url.Values) error {
	t.record("keepalive", data)
	return t.keepaliveErr
}

func (t *fakeTransport) Sync(_ string, data url.Values) error {
	t.record("sync", data)
	return t.syncErr
}

func (t *fakeTransport) callLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *fakeTransport) lastSent() url.Values {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

var errNetwork = errors.New("network unreachable")
