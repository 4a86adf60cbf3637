// Package extract scrapes a bridge configuration from the webinar widget's
// embed snippet and the CRM's hosted form snippet.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignite/formbridge/internal/domain"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

var (
	targetClassRe = regexp.MustCompile(`wf_target_([A-Za-z0-9_]+)`)
	scriptIDRe    = regexp.MustCompile(`id:\s*['"]([^'"]+)['"]`)
	subdomainRe   = regexp.MustCompile(`^https?://([^.]+)\.infusionsoft\.`)
	companyRe     = regexp.MustCompile(`(?i)from\s+([^.]+?)(?:\s+at\s+the\s+mobile|\.|$)`)
	consentNameRe = regexp.MustCompile(`(?i)consent|sms|text|message`)
)

// FromSnippets parses both snippets and merges them into one configuration
// with defaults applied. Missing required values are not an error here; call
// Validate before using the result.
func FromSnippets(widgetSnippet, crmSnippet string) (domain.BridgeConfig, error) {
	var cfg domain.BridgeConfig
	if err := parseWidget(widgetSnippet, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing widget snippet: %w", err)
	}
	if err := parseCRM(crmSnippet, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing crm snippet: %w", err)
	}
	cfg.ApplyDefaults()

	logger.Debug("extracted bridge config",
		"widget_target_id", cfg.WidgetTargetID,
		"form_id", cfg.FormID,
		"consent_field", cfg.Consent.ID,
		"tracking_fields", len(cfg.TrackingFields))
	return cfg, nil
}

// Validate reports every missing required value in a single error.
func Validate(cfg domain.BridgeConfig) error {
	problems := cfg.Problems()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(problems, "; "))
}

func parseWidget(snippet string, cfg *domain.BridgeConfig) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return err
	}

	doc.Find(`[class*="wf_target_"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := targetClassRe.FindStringSubmatch(s.AttrOr("class", "")); m != nil {
			cfg.WidgetTargetID = m[1]
			return false
		}
		return true
	})

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := scriptIDRe.FindStringSubmatch(s.Text()); m != nil {
			cfg.WidgetID = m[1]
			return false
		}
		return true
	})
	// Bare script bodies pasted without their tag.
	if cfg.WidgetID == "" {
		if m := scriptIDRe.FindStringSubmatch(snippet); m != nil {
			cfg.WidgetID = m[1]
		}
	}
	if cfg.WidgetTargetID == "" {
		cfg.WidgetTargetID = cfg.WidgetID
	}
	return nil
}

func parseCRM(snippet string, cfg *domain.BridgeConfig) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return err
	}

	form := doc.Find(`form[id^="inf_form_"]`).First()
	if form.Length() == 0 {
		form = doc.Find(`[id^="inf_form_"]`).First()
	}
	cfg.FormID = form.AttrOr("id", "")

	action := form.AttrOr("action", "")
	if action == "" {
		action = doc.Find("form[action]").First().AttrOr("action", "")
	}
	cfg.ActionURL = action
	if m := subdomainRe.FindStringSubmatch(action); m != nil {
		cfg.Subdomain = m[1]
	}

	if box := consentInput(doc); box != nil {
		id := box.AttrOr("id", "")
		if id == "" {
			id = box.AttrOr("name", "")
		}
		cfg.Consent = domain.ConsentField{
			ID:    id,
			Name:  box.AttrOr("name", id),
			Value: box.AttrOr("value", domain.DefaultConsentValue),
			Type:  box.AttrOr("type", "checkbox"),
		}
	}

	if text := consentLabel(doc, cfg.Consent.ID); text != "" {
		cfg.ConsentText = text
		if m := companyRe.FindStringSubmatch(text); m != nil {
			cfg.CompanyName = strings.TrimSpace(m[1])
		}
	}

	if v, ok := doc.Find(`[name="inf_form_name"]`).First().Attr("value"); ok && v != "" {
		cfg.FormName = v
	}

	seen := make(map[string]bool)
	doc.Find(`[name^="inf_custom_"]`).Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		if !seen[name] {
			seen[name] = true
			cfg.TrackingFields = append(cfg.TrackingFields, name)
		}
	})
	return nil
}

// consentInput prefers the CRM's own option checkbox, then any checkbox
// whose name looks consent-related.
func consentInput(doc *goquery.Document) *goquery.Selection {
	if s := doc.Find(`input[id^="inf_option_"]`).First(); s.Length() > 0 {
		return s
	}
	var found *goquery.Selection
	doc.Find(`input[type="checkbox"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if consentNameRe.MatchString(s.AttrOr("name", "")) {
			found = s
			return false
		}
		return true
	})
	return found
}

func consentLabel(doc *goquery.Document, consentID string) string {
	var label *goquery.Selection
	if consentID != "" {
		label = doc.Find(`label[for="` + consentID + `"]`).First()
	}
	if label == nil || label.Length() == 0 {
		label = doc.Find(`label[for^="inf_option_"]`).First()
	}
	return strings.Join(strings.Fields(label.Text()), " ")
}
