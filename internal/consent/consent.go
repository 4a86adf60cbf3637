// Package consent owns the SMS consent flag and the checkbox that reflects it.
package consent

import (
	"errors"
	"fmt"
	"html"

	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// Element ids of the injected markup.
const (
	WrapperID  = "wf_sms_consent_wrap"
	CheckboxID = "wf_sms_consent"
	LabelID    = "wf_sms_consent_label"
)

// ErrNoCheckbox is returned when injection could not produce a checkbox.
var ErrNoCheckbox = errors.New("consent: checkbox not present after injection")

var containerClasses = []string{"wf_column", "wf_form", "wf_step"}

// Gate exposes the live state of the consent checkbox. The state is read
// from the element on every call and never cached.
type Gate struct {
	box *page.Element
}

// NewGate wraps an existing checkbox.
func NewGate(box *page.Element) *Gate {
	return &Gate{box: box}
}

// Checked reports whether the user currently consents.
func (g *Gate) Checked() bool {
	if g == nil || g.box == nil {
		return false
	}
	return g.box.Checked()
}

// Element returns the checkbox.
func (g *Gate) Element() *page.Element { return g.box }

// OnChange registers fn for user toggles. It receives the new state.
func (g *Gate) OnChange(fn func(bool)) func() {
	return g.box.AddEventListener("change", func(*page.Event) {
		fn(g.box.Checked())
	}, false)
}

// Toggle sets the checkbox the way a user click would, including the change
// notification.
func (g *Gate) Toggle(checked bool) {
	if g.box.Checked() == checked {
		return
	}
	g.box.SetChecked(checked)
	g.box.Dispatch(page.NewEvent("input"))
	g.box.Dispatch(page.NewEvent("change"))
}

// Inject adds the consent checkbox before the trigger's container and returns
// a gate over it. A checkbox injected earlier is reused.
func Inject(doc *page.Document, trigger *page.Element, text string) (*Gate, error) {
	log := logger.Named("consent")
	if doc.GetElementByID(WrapperID) != nil {
		if box := doc.GetElementByID(CheckboxID); box != nil {
			log.Debug("SMS consent already exists")
			return NewGate(box), nil
		}
	}

	container := bestContainer(trigger)
	container.InsertHTMLBefore(markup(text))

	box := doc.GetElementByID(CheckboxID)
	if box == nil {
		return nil, fmt.Errorf("inserting before %s: %w", container.Describe(), ErrNoCheckbox)
	}
	gate := NewGate(box)
	gate.OnChange(func(checked bool) {
		log.Debug("SMS consent changed", "checked", checked)
	})
	log.Debug("SMS consent checkbox injected", "before", container.Describe())
	return gate, nil
}

// bestContainer walks up from the trigger to the nearest form-like wrapper.
func bestContainer(el *page.Element) *page.Element {
	for cur := el; cur != nil && cur.Tag() != "body" && cur.Tag() != "html"; cur = cur.Parent() {
		if cur.Tag() == "form" {
			return cur
		}
		for _, class := range containerClasses {
			if cur.HasClass(class) {
				return cur
			}
		}
	}
	if c := el.Closest(`[id*="wf_element"]`); c != nil {
		return c
	}
	if p := el.Parent(); p != nil {
		return p
	}
	return el
}

func markup(text string) string {
	return fmt.Sprintf(`<div id="%s" style="margin:8px 10px 0;font-size:13px;color:#333;display:flex;gap:8px;align-items:flex-start;line-height:1.4;position:relative;z-index:1000;">`+
		`<input id="%s" type="checkbox" style="width:16px;height:16px;margin-top:2px;flex-shrink:0;cursor:pointer;" aria-describedby="%s">`+
		`<label id="%s" for="%s" style="line-height:1.35;cursor:pointer;user-select:none;">%s</label></div>`,
		WrapperID, CheckboxID, LabelID, LabelID, CheckboxID, html.EscapeString(text))
}
