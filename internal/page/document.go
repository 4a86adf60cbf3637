package page

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is the parsed, live DOM of a page.
type Document struct {
	mu        sync.RWMutex
	gq        *goquery.Document
	listeners listenerSet
	focused   *html.Node
	window    *Window
}

// ParseDocument parses r into a Document not yet attached to a window.
func ParseDocument(r io.Reader) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &Document{gq: gq}, nil
}

// Window returns the window the document is attached to, or nil.
func (d *Document) Window() *Window { return d.window }

// QuerySelector returns the first element matching sel, or nil.
func (d *Document) QuerySelector(sel string) *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(d.gq.Find(sel).First())
}

// QuerySelectorAll returns every element matching sel in document order.
func (d *Document) QuerySelectorAll(sel string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrapAll(d.gq.Find(sel))
}

// GetElementByID looks an element up by its id attribute.
func (d *Document) GetElementByID(id string) *Element {
	if id == "" {
		return nil
	}
	return d.QuerySelector(AttrSelector("id", id))
}

// Form returns the form with the given id.
func (d *Document) Form(id string) (*Form, bool) {
	el := d.GetElementByID(id)
	if el == nil || el.Tag() != "form" {
		return nil, false
	}
	return &Form{Element: el}, true
}

// Body returns the body element.
func (d *Document) Body() *Element { return d.QuerySelector("body") }

// Focused returns the element that last received focus.
func (d *Document) Focused() *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.focused == nil {
		return nil
	}
	return &Element{doc: d, node: d.focused}
}

// HTML renders the current state of the document.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return goquery.OuterHtml(d.gq.Selection)
}

// ListenerCount reports how many listeners are registered on nodes of the
// document. Tests use it to verify cleanup.
func (d *Document) ListenerCount() int { return d.listeners.count() }

func (d *Document) wrap(sel *goquery.Selection) *Element {
	if sel.Length() == 0 {
		return nil
	}
	return &Element{doc: d, node: sel.Nodes[0]}
}

func (d *Document) wrapAll(sel *goquery.Selection) []*Element {
	out := make([]*Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, &Element{doc: d, node: n})
	}
	return out
}

// AttrSelector builds a `[attr="value"]` selector with the value quoted for CSS.
func AttrSelector(attr, value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return fmt.Sprintf(`[%s="%s"]`, attr, r.Replace(value))
}
