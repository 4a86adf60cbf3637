package page

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoAction is returned by Submit when the form has nowhere to post.
var ErrNoAction = errors.New("page: form has no action")

// FormContentType is the encoding used for native and backup submissions.
const FormContentType = "application/x-www-form-urlencoded;charset=UTF-8"

// Form is a form element with submission behaviour.
type Form struct {
	*Element
}

// Action returns the absolute submission URL.
func (f *Form) Action() string {
	action := f.Attr("action")
	if action == "" {
		return ""
	}
	if w := f.doc.window; w != nil {
		if base := w.Location(); base != nil {
			if ref, err := base.Parse(action); err == nil {
				return ref.String()
			}
		}
	}
	return action
}

// Target returns the name of the frame the form posts into.
func (f *Form) Target() string { return f.Attr("target") }

// Field finds a control inside the form by id, falling back to name.
func (f *Form) Field(key string) (*Element, bool) {
	if key == "" {
		return nil, false
	}
	if el := f.QuerySelector(AttrSelector("id", key)); el != nil {
		return el, true
	}
	if el := f.QuerySelector(AttrSelector("name", key)); el != nil {
		return el, true
	}
	return nil, false
}

// Values collects the form-encoded data set the way a browser would: named,
// enabled controls only; checkboxes and radios only when checked.
func (f *Form) Values() url.Values {
	values := url.Values{}
	for _, el := range f.QuerySelectorAll("input, textarea, select") {
		name := el.Name()
		if name == "" || el.Disabled() {
			continue
		}
		switch el.Type() {
		case "submit", "button", "image", "reset", "file":
			continue
		case "checkbox", "radio":
			if !el.Checked() {
				continue
			}
		}
		values.Add(name, el.Value())
	}
	return values
}

// Submit performs the native submission. When the target names a frame the
// request is posted in the background and the frame's load (or error) event
// fires on completion. Without a frame the submission navigates the window
// away, so the unload sequence runs before the request is sent.
func (f *Form) Submit() error {
	action := f.Action()
	if action == "" {
		return ErrNoAction
	}
	w := f.doc.window
	if w == nil {
		return fmt.Errorf("page: form %q is not attached to a window", f.ID())
	}
	body := f.Values().Encode()

	frame := f.targetFrame()
	if frame == nil {
		w.Unload()
	}

	w.track(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := postForm(ctx, w.Client(), action, body)
		if frame == nil {
			return
		}
		if err != nil {
			frame.Dispatch(&Event{Type: "error"})
			return
		}
		frame.Dispatch(&Event{Type: "load"})
	})
	return nil
}

func (f *Form) targetFrame() *Element {
	target := f.Target()
	if target == "" || target == "_self" || target == "_top" || target == "_parent" {
		return nil
	}
	return f.doc.QuerySelector("iframe" + AttrSelector("name", target))
}

func postForm(ctx context.Context, client *http.Client, action, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", FormContentType)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// newFormRequest builds a POST carrying a form-encoded body.
func newFormRequest(ctx context.Context, target string, body []byte, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}
