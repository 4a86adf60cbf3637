// Package registry holds the widget instance configs a page declares.
//
// The bridge populates the registry while it initializes and then seals it;
// the schedule accessors only read from it afterwards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/page"
)

var (
	ErrNotFound   = errors.New("registry: widget instance not found")
	ErrNoSchedule = errors.New("registry: widget instance has no schedule")
	ErrSealed     = errors.New("registry: sealed")
)

// DefaultLayout renders schedules like "Tuesday, March 3 at 7:00 PM".
const DefaultLayout = "Monday, January 2 at 3:04 PM"

var scheduleLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Registry is a keyed store of widget instances, safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]domain.WidgetInstance
	order  []string
	sealed bool
}

func New() *Registry {
	return &Registry{items: make(map[string]domain.WidgetInstance)}
}

var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register inserts inst or merges its non-empty fields into the existing
// entry with the same id.
func (r *Registry) Register(inst domain.WidgetInstance) (domain.WidgetInstance, error) {
	if strings.TrimSpace(inst.ID) == "" {
		return domain.WidgetInstance{}, fmt.Errorf("registry: instance id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return domain.WidgetInstance{}, ErrSealed
	}
	cur, ok := r.items[inst.ID]
	if !ok {
		r.order = append(r.order, inst.ID)
		cur.ID = inst.ID
	}
	if inst.CID != "" {
		cur.CID = inst.CID
	}
	if inst.Schedule != "" {
		cur.Schedule = inst.Schedule
	}
	r.items[inst.ID] = cur
	return cur, nil
}

// AttachCID records the widget correlation id on instance id, creating the
// instance when the page never declared it.
func (r *Registry) AttachCID(id, cid string) (domain.WidgetInstance, error) {
	return r.Register(domain.WidgetInstance{ID: id, CID: cid})
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (domain.WidgetInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[id]
	return inst, ok
}

// All returns the instances in registration order.
func (r *Registry) All() []domain.WidgetInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WidgetInstance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// IDs returns the registered ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Schedule returns the instance's scheduled start time.
func (r *Registry) Schedule(id string) (time.Time, bool) {
	inst, ok := r.Get(id)
	if !ok || inst.Schedule == "" {
		return time.Time{}, false
	}
	t, err := ParseSchedule(inst.Schedule)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RenderSchedule writes the formatted schedule of instance id into every
// element matching selector and returns how many were updated.
func (r *Registry) RenderSchedule(doc *page.Document, selector, id, layout string) (int, error) {
	inst, ok := r.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t, ok := r.Schedule(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSchedule, inst.ID)
	}
	text := Format(t, layout)
	els := doc.QuerySelectorAll(selector)
	for _, el := range els {
		el.SetText(text)
	}
	return len(els), nil
}

// Format renders t with layout, falling back to DefaultLayout.
func Format(t time.Time, layout string) string {
	if layout == "" {
		layout = DefaultLayout
	}
	return t.Format(layout)
}

// ParseSchedule accepts RFC 3339, a few zone-less date-time forms (read as
// UTC) and unix seconds or milliseconds.
func ParseSchedule(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("registry: unrecognized schedule %q", s)
}
