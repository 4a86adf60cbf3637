package domain

import "strings"

// Default values applied when a snippet does not carry them.
const (
	DefaultConsentText  = "By checking this box, I agree to receive text messages."
	DefaultCompanyName  = "Our Company"
	DefaultFormName     = "Web Form"
	DefaultConsentValue = "on"
	DefaultSinkFrameID  = "inf_sink_iframe"
)

// ConsentField describes the CRM form checkbox recording SMS consent.
type ConsentField struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
	Type  string `json:"type" yaml:"type"`
}

// BridgeConfig is the flat configuration record scraped from the two embed
// snippets. The coordinator only populates TrackingFields that the CRM form
// actually declares.
type BridgeConfig struct {
	WidgetTargetID string       `json:"widget_target_id" yaml:"widget_target_id"`
	WidgetID       string       `json:"widget_id,omitempty" yaml:"widget_id"`
	FormID         string       `json:"form_id" yaml:"form_id"`
	ActionURL      string       `json:"action_url" yaml:"action_url"`
	Subdomain      string       `json:"subdomain,omitempty" yaml:"subdomain"`
	Consent        ConsentField `json:"consent_field" yaml:"consent_field"`
	ConsentText    string       `json:"consent_text" yaml:"consent_text"`
	CompanyName    string       `json:"company_name" yaml:"company_name"`
	FormName       string       `json:"form_name" yaml:"form_name"`
	TrackingFields []string     `json:"tracking_fields" yaml:"tracking_fields"`
	ButtonSelector string       `json:"button_selector,omitempty" yaml:"button_selector"`
	PrimaryTimeout int          `json:"timeout_ms" yaml:"timeout_ms"`
	MaxRetries     int          `json:"max_retries" yaml:"max_retries"`
}

// ApplyDefaults fills the optional fields the way the generator always has.
func (c *BridgeConfig) ApplyDefaults() {
	if c.ConsentText == "" {
		c.ConsentText = DefaultConsentText
	}
	if c.CompanyName == "" {
		c.CompanyName = DefaultCompanyName
	}
	if c.FormName == "" {
		c.FormName = DefaultFormName
	}
	if c.Consent.ID != "" && c.Consent.Name == "" {
		c.Consent.Name = c.Consent.ID
	}
	if c.Consent.ID != "" && c.Consent.Value == "" {
		c.Consent.Value = DefaultConsentValue
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TrackingFields == nil {
		c.TrackingFields = []string{}
	}
}

// Problems lists the required values that are missing. An empty result means
// the configuration can drive a bridge.
func (c BridgeConfig) Problems() []string {
	var problems []string
	if strings.TrimSpace(c.WidgetTargetID) == "" {
		problems = append(problems, "WebinarFuel target ID not found")
	}
	if strings.TrimSpace(c.FormID) == "" {
		problems = append(problems, "Keap form ID not found")
	}
	if strings.TrimSpace(c.Consent.ID) == "" {
		problems = append(problems, "Keap consent field ID not found")
	}
	return problems
}

// WidgetInstance is one entry of the page-wide widget registry.
type WidgetInstance struct {
	ID       string `json:"id"`
	CID      string `json:"cid,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}
