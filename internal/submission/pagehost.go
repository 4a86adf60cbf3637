package submission

import (
	"context"
	"net/url"

	"github.com/ignite/formbridge/internal/page"
)

// Host adapts a page window to the coordinator's ports.
func Host(w *page.Window) (Page, Transport) {
	return windowPage{w: w}, windowTransport{nav: w.Navigator()}
}

type windowPage struct {
	w *page.Window
}

func (p windowPage) Form(id string) (Form, bool) {
	f, ok := p.w.Document().Form(id)
	if !ok {
		return nil, false
	}
	return pageForm{f: f}, true
}

func (p windowPage) Sink(id string) (Signal, bool) {
	el := p.w.Document().GetElementByID(id)
	if el == nil || el.Tag() != "iframe" {
		return nil, false
	}
	return frameSignal{el: el}, true
}

func (p windowPage) Hidden() bool { return p.w.Hidden() }

func (p windowPage) OnLifecycle(fn func(string)) func() {
	var removers []func()
	for _, typ := range []string{page.EventVisibilityChange, page.EventBeforeUnload, page.EventPageHide} {
		removers = append(removers, p.w.AddEventListener(typ, func(ev *page.Event) { fn(ev.Type) }))
	}
	return func() {
		for _, r := range removers {
			r()
		}
	}
}

type pageForm struct {
	f *page.Form
}

func (f pageForm) Action() string     { return f.f.Action() }
func (f pageForm) Values() url.Values { return f.f.Values() }
func (f pageForm) Submit() error      { return f.f.Submit() }

func (f pageForm) Field(key string) (Field, bool) {
	el, ok := f.f.Field(key)
	if !ok {
		return nil, false
	}
	return el, true
}

type frameSignal struct {
	el *page.Element
}

func (s frameSignal) OnLoad(fn func()) func() {
	return s.el.AddEventListenerOnce("load", func(*page.Event) { fn() }, false)
}

func (s frameSignal) OnError(fn func()) func() {
	return s.el.AddEventListenerOnce("error", func(*page.Event) { fn() }, false)
}

type windowTransport struct {
	nav *page.Navigator
}

func (t windowTransport) Beacon(target string, data url.Values) bool {
	return t.nav.SendBeacon(target, page.FormContentType, []byte(data.Encode()))
}

func (t windowTransport) Keepalive(ctx context.Context, target string, data url.Values) error {
	return t.nav.KeepaliveFetch(ctx, target, page.FormContentType, []byte(data.Encode()))
}

func (t windowTransport) Sync(target string, data url.Values) error {
	return t.nav.SyncRequest(target, page.FormContentType, []byte(data.Encode()))
}
