// Package locator finds the webinar widget's button and lead fields on a
// page, retrying while the widget renders.
package locator

import (
	"github.com/ignite/formbridge/internal/page"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// Handles are the widget elements the bridge attaches to. Phone is optional.
type Handles struct {
	Button *page.Element
	Name   *page.Element
	Email  *page.Element
	Phone  *page.Element
}

// Complete reports whether every required handle was found.
func (h Handles) Complete() bool {
	return h.Button != nil && h.Name != nil && h.Email != nil
}

const (
	nameSelector  = `input[name="name"], input[type="name"]`
	emailSelector = `input[name="email"], input[type="email"]`
	phoneSelector = `input[name="tel"], input[type="tel"], input[name="phone"]`
)

// Strategy is one way of finding the handles.
type Strategy struct {
	Name string
	Find func(doc *page.Document) Handles
}

// ButtonSelector uses an explicitly configured button and the widget fields
// around it.
func ButtonSelector(sel string) Strategy {
	return Strategy{Name: "configured-button", Find: func(doc *page.Document) Handles {
		btn := doc.QuerySelector(sel)
		if btn == nil {
			return Handles{}
		}
		return fieldsAround(btn)
	}}
}

// WidgetClasses looks for the widget's own class names anywhere on the page.
func WidgetClasses() Strategy {
	return Strategy{Name: "widget-classes", Find: func(doc *page.Document) Handles {
		return Handles{
			Button: first(doc, ".wf_button", `button[class*="wf_"]`, `[class*="wf_element"] button`, `[id*="wf_element"] button`),
			Name:   first(doc, `input[name="name"]`, `input[type="name"]`),
			Email:  first(doc, `input[name="email"]`, `input[type="email"]`),
			Phone:  first(doc, `input[name="tel"]`, `input[type="tel"]`, `input[name="phone"]`),
		}
	}}
}

// TargetContainer searches inside the widget's embed target.
func TargetContainer(targetID string) Strategy {
	return Strategy{Name: "target-container", Find: func(doc *page.Document) Handles {
		var selectors []string
		if targetID != "" {
			selectors = append(selectors, ".wf_target_"+targetID)
		}
		selectors = append(selectors, `[class*="wf_target"]`, `[class*="wf_layout"]`)
		c := first(doc, selectors...)
		if c == nil {
			return Handles{}
		}
		return Handles{
			Button: c.QuerySelector("button"),
			Name:   c.QuerySelector(nameSelector),
			Email:  c.QuerySelector(emailSelector),
			Phone:  c.QuerySelector(phoneSelector),
		}
	}}
}

// GenericForm takes the first button whose enclosing form-like container
// holds both a name and an email field.
func GenericForm() Strategy {
	return Strategy{Name: "generic-form", Find: func(doc *page.Document) Handles {
		for _, btn := range doc.QuerySelectorAll(`button, input[type="submit"]`) {
			if h := fieldsAround(btn); h.Complete() {
				return h
			}
		}
		return Handles{}
	}}
}

func fieldsAround(btn *page.Element) Handles {
	c := btn.Closest("form")
	if c == nil {
		c = btn.Closest(`[class*="form"]`)
	}
	if c == nil {
		c = btn.Closest("div")
	}
	if c == nil {
		return Handles{}
	}
	return Handles{
		Button: btn,
		Name:   c.QuerySelector(nameSelector),
		Email:  c.QuerySelector(emailSelector),
		Phone:  c.QuerySelector(phoneSelector),
	}
}

func first(doc *page.Document, selectors ...string) *page.Element {
	for _, sel := range selectors {
		if el := doc.QuerySelector(sel); el != nil {
			return el
		}
	}
	return nil
}

// Locator evaluates its strategies in order; the first complete match wins.
type Locator struct {
	doc        *page.Document
	strategies []Strategy
	log        *logger.Logger
}

// New builds the default strategy chain. A configured button selector is
// tried before the built-in strategies.
func New(doc *page.Document, targetID, buttonSelector string) *Locator {
	var strategies []Strategy
	if buttonSelector != "" {
		strategies = append(strategies, ButtonSelector(buttonSelector))
	}
	strategies = append(strategies, WidgetClasses(), TargetContainer(targetID), GenericForm())
	return NewWithStrategies(doc, strategies...)
}

func NewWithStrategies(doc *page.Document, strategies ...Strategy) *Locator {
	return &Locator{doc: doc, strategies: strategies, log: logger.Named("locator")}
}

// Find runs one detection pass.
func (l *Locator) Find() (Handles, bool) {
	for i, s := range l.strategies {
		h := s.Find(l.doc)
		if !h.Complete() {
			continue
		}
		phone := "none"
		if h.Phone != nil {
			phone = h.Phone.Name()
		}
		l.log.Debug("detection strategy matched", "strategy", s.Name, "index", i+1,
			"button", h.Button.Describe(), "name_field", h.Name.Name(), "email_field", h.Email.Name(), "phone_field", phone)
		return h, true
	}
	return Handles{}, false
}

// Diagnostics summarizes what the page offers when detection fails.
func (l *Locator) Diagnostics() map[string]int {
	return map[string]int{
		"buttons":     len(l.doc.QuerySelectorAll("button")),
		"inputs":      len(l.doc.QuerySelectorAll("input")),
		"wf_elements": len(l.doc.QuerySelectorAll(`[class*="wf_"]`)),
	}
}
