package page

import (
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"
)

// Event is a synthetic DOM event.
type Event struct {
	Type    string
	Target  *Element
	Bubbles bool

	defaultPrevented bool
	stopped          bool
	stoppedImmediate bool
}

// NewEvent returns a bubbling event of the given type.
func NewEvent(typ string) *Event {
	return &Event{Type: typ, Bubbles: true}
}

// PreventDefault cancels the default action of the event.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether any listener cancelled the default action.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// StopPropagation stops the event from reaching further nodes.
func (e *Event) StopPropagation() { e.stopped = true }

// StopImmediatePropagation also skips the remaining listeners on the current node.
func (e *Event) StopImmediatePropagation() {
	e.stopped = true
	e.stoppedImmediate = true
}

// Listener handles a dispatched event.
type Listener func(*Event)

type listenerEntry struct {
	typ     string
	fn      Listener
	capture bool
	once    bool
	removed atomic.Bool
}

// listenerSet stores listeners per target. The zero value is ready to use.
type listenerSet struct {
	mu      sync.Mutex
	byNode  map[*html.Node][]*listenerEntry
	byEvent map[string][]*listenerEntry
}

func (s *listenerSet) addNode(n *html.Node, e *listenerEntry) func() {
	s.mu.Lock()
	if s.byNode == nil {
		s.byNode = make(map[*html.Node][]*listenerEntry)
	}
	s.byNode[n] = append(s.byNode[n], e)
	s.mu.Unlock()
	return func() { s.removeNode(n, e) }
}

func (s *listenerSet) removeNode(n *html.Node, e *listenerEntry) {
	e.removed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byNode[n]
	for i, cur := range list {
		if cur == e {
			s.byNode[n] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (s *listenerSet) forNode(n *html.Node, typ string) []*listenerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*listenerEntry
	for _, e := range s.byNode[n] {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *listenerSet) addGlobal(e *listenerEntry) func() {
	s.mu.Lock()
	if s.byEvent == nil {
		s.byEvent = make(map[string][]*listenerEntry)
	}
	s.byEvent[e.typ] = append(s.byEvent[e.typ], e)
	s.mu.Unlock()
	return func() {
		e.removed.Store(true)
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.byEvent[e.typ]
		for i, cur := range list {
			if cur == e {
				s.byEvent[e.typ] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (s *listenerSet) global(typ string) []*listenerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*listenerEntry(nil), s.byEvent[typ]...)
}

func (s *listenerSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.byNode {
		n += len(l)
	}
	for _, l := range s.byEvent {
		n += len(l)
	}
	return n
}

// invoke runs the listeners in order, honouring removal during dispatch and
// immediate propagation stops. It reports whether dispatch should continue.
func invoke(entries []*listenerEntry, ev *Event, remove func(*listenerEntry)) bool {
	for _, e := range entries {
		if e.removed.Load() {
			continue
		}
		if e.once && remove != nil {
			remove(e)
		}
		e.fn(ev)
		if ev.stoppedImmediate {
			return false
		}
	}
	return !ev.stopped
}
