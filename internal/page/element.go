package page

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Element is a handle on one node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

// Document returns the owning document.
func (e *Element) Document() *Document { return e.doc }

// Tag returns the lower-case tag name.
func (e *Element) Tag() string { return e.node.Data }

// ID returns the id attribute.
func (e *Element) ID() string { return e.Attr("id") }

// Name returns the name attribute.
func (e *Element) Name() string { return e.Attr("name") }

// Type returns the lower-case type attribute.
func (e *Element) Type() string { return strings.ToLower(e.Attr("type")) }

// Attr returns an attribute value or "".
func (e *Element) Attr(key string) string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	v, _ := e.sel().Attr(key)
	return v
}

// HasAttr reports whether the attribute is present.
func (e *Element) HasAttr(key string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	_, ok := e.sel().Attr(key)
	return ok
}

// SetAttr sets an attribute.
func (e *Element) SetAttr(key, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.sel().SetAttr(key, value)
}

// Value returns the current value of a form control. Checkboxes and radios
// without a value attribute report "on".
func (e *Element) Value() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.valueLocked()
}

func (e *Element) valueLocked() string {
	s := e.sel()
	if e.node.Data == "textarea" {
		return s.Text()
	}
	v, ok := s.Attr("value")
	if !ok {
		t, _ := s.Attr("type")
		switch strings.ToLower(t) {
		case "checkbox", "radio":
			return "on"
		}
	}
	return v
}

// SetValue replaces the value of a form control. Programmatic assignment does
// not dispatch events.
func (e *Element) SetValue(v string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.Data == "textarea" {
		e.sel().SetText(v)
		return
	}
	e.sel().SetAttr("value", v)
}

// Checked reports the checkbox state.
func (e *Element) Checked() bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	_, ok := e.sel().Attr("checked")
	return ok
}

// SetChecked sets the checkbox state without dispatching events.
func (e *Element) SetChecked(checked bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if checked {
		e.sel().SetAttr("checked", "checked")
		return
	}
	e.sel().RemoveAttr("checked")
}

// Disabled reports whether the control carries the disabled attribute.
func (e *Element) Disabled() bool { return e.HasAttr("disabled") }

// Text returns the combined text content.
func (e *Element) Text() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel().Text()
}

// HasClass reports whether the class attribute contains class.
func (e *Element) HasClass(class string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel().HasClass(class)
}

// Matches reports whether the element matches sel.
func (e *Element) Matches(sel string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel().Is(sel)
}

// Parent returns the parent element, or nil at the root.
func (e *Element) Parent() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return &Element{doc: e.doc, node: p}
}

// Closest returns the nearest ancestor-or-self matching sel.
func (e *Element) Closest(sel string) *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.wrap(e.sel().Closest(sel))
}

// QuerySelector finds the first descendant matching sel.
func (e *Element) QuerySelector(sel string) *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.wrap(e.sel().Find(sel).First())
}

// QuerySelectorAll finds every descendant matching sel.
func (e *Element) QuerySelectorAll(sel string) []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.wrapAll(e.sel().Find(sel))
}

// InsertHTMLBefore parses markup and inserts it as the previous sibling.
func (e *Element) InsertHTMLBefore(markup string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.sel().BeforeHtml(markup)
}

// AppendHTML parses markup and appends it as the last child.
func (e *Element) AppendHTML(markup string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.sel().AppendHtml(markup)
}

// SetText replaces the element's children with a text node.
func (e *Element) SetText(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.sel().SetText(text)
}

// Focus marks the element as the document's focused element.
func (e *Element) Focus() {
	e.doc.mu.Lock()
	e.doc.focused = e.node
	e.doc.mu.Unlock()
}

// Describe returns a short tag#id.class label for diagnostics.
func (e *Element) Describe() string {
	label := e.Tag()
	if id := e.ID(); id != "" {
		label += "#" + id
	}
	if class := e.Attr("class"); class != "" {
		label += "." + strings.Join(strings.Fields(class), ".")
	}
	return label
}

// AddEventListener registers fn for typ. Capture listeners run on the way
// down to the target, before any bubble listener. The returned func removes
// the listener.
func (e *Element) AddEventListener(typ string, fn Listener, capture bool) func() {
	return e.doc.listeners.addNode(e.node, &listenerEntry{typ: typ, fn: fn, capture: capture})
}

// AddEventListenerOnce registers a listener removed after its first call.
func (e *Element) AddEventListenerOnce(typ string, fn Listener, capture bool) func() {
	return e.doc.listeners.addNode(e.node, &listenerEntry{typ: typ, fn: fn, capture: capture, once: true})
}

// Dispatch delivers ev to this element through the capture, target and
// bubble phases. It returns false when a listener prevented the default.
func (e *Element) Dispatch(ev *Event) bool {
	ev.Target = e

	path := e.ancestry()
	set := &e.doc.listeners

	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		entries := filter(set.forNode(n, ev.Type), func(l *listenerEntry) bool {
			return l.capture || n == e.node
		})
		if n == e.node {
			// At the target capture listeners run first, then the rest.
			entries = append(filter(entries, func(l *listenerEntry) bool { return l.capture }),
				filter(entries, func(l *listenerEntry) bool { return !l.capture })...)
		}
		if !invoke(entries, ev, func(l *listenerEntry) { set.removeNode(n, l) }) {
			return !ev.defaultPrevented
		}
	}

	if ev.Bubbles {
		for _, n := range path[1:] {
			entries := filter(set.forNode(n, ev.Type), func(l *listenerEntry) bool { return !l.capture })
			if !invoke(entries, ev, func(l *listenerEntry) { set.removeNode(n, l) }) {
				break
			}
		}
	}
	return !ev.defaultPrevented
}

// Click dispatches a click and reports whether the default action may run.
func (e *Element) Click() bool {
	return e.Dispatch(&Event{Type: "click", Bubbles: true})
}

// ancestry returns the node itself followed by its element ancestors.
func (e *Element) ancestry() []*html.Node {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	var path []*html.Node
	for n := e.node; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			path = append(path, n)
		}
	}
	return path
}

func (e *Element) sel() *goquery.Selection {
	return e.doc.gq.FindNodes(e.node)
}

func filter(in []*listenerEntry, keep func(*listenerEntry) bool) []*listenerEntry {
	var out []*listenerEntry
	for _, l := range in {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}
