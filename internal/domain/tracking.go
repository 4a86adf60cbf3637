package domain

import "time"

// Attribution parameter names read from the landing page query string.
const (
	ParamUTMSource   = "utm_source"
	ParamUTMMedium   = "utm_medium"
	ParamUTMCampaign = "utm_campaign"
	ParamUTMTerm     = "utm_term"
	ParamUTMContent  = "utm_content"
	ParamUTMID       = "utm_id"
	ParamFBCLID      = "fbclid"
	ParamGCLID       = "gclid"
	ParamMSCLKID     = "msclkid"
	ParamTTCLID      = "ttclid"
	ParamWidgetCID   = "_wf_cid"
)

// AttributionParams lists every parameter a snapshot records, in capture order.
var AttributionParams = []string{
	ParamUTMSource, ParamUTMMedium, ParamUTMCampaign, ParamUTMTerm, ParamUTMContent, ParamUTMID,
	ParamFBCLID, ParamGCLID, ParamMSCLKID, ParamTTCLID,
	ParamWidgetCID,
}

// TrackingSnapshot is the attribution and session data captured once at page
// load. It is never mutated after capture; Params holds only parameters that
// were actually present.
type TrackingSnapshot struct {
	Params    map[string]string `json:"params"`
	Referrer  string            `json:"referrer"`
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id"`
	PageURL   string            `json:"page_url"`
}

// Param returns a captured parameter and whether it was present.
func (s TrackingSnapshot) Param(name string) (string, bool) {
	v, ok := s.Params[name]
	return v, ok
}

// TimestampISO renders the capture time the way the CRM tracking field expects it.
func (s TrackingSnapshot) TimestampISO() string {
	return s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
}
