package tracking

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/formbridge/internal/domain"
)

// CRM custom field names populated from a snapshot.
const (
	FieldSource     = "inf_custom_GaSource"
	FieldMedium     = "inf_custom_GaMedium"
	FieldCampaign   = "inf_custom_GaCampaign"
	FieldTerm       = "inf_custom_GaTerm"
	FieldContent    = "inf_custom_GaContent"
	FieldCampaignID = "inf_custom_GaCampaignID"
	FieldReferrer   = "inf_custom_GaReferurl"
	FieldFBCLID     = "inf_custom_fbclid"
	FieldGCLID      = "inf_custom_gclid"
	FieldMSCLKID    = "inf_custom_msclkid"
	FieldTTCLID     = "inf_custom_ttclid"
	FieldSessionID  = "inf_custom_SessionId"
	FieldPageURL    = "inf_custom_PageUrl"
	FieldTimestamp  = "inf_custom_Timestamp"
)

// MissingValue is written into a CRM tracking field whose source is absent.
const MissingValue = "null"

var paramFields = []struct{ field, param string }{
	{FieldSource, domain.ParamUTMSource},
	{FieldMedium, domain.ParamUTMMedium},
	{FieldCampaign, domain.ParamUTMCampaign},
	{FieldTerm, domain.ParamUTMTerm},
	{FieldContent, domain.ParamUTMContent},
	{FieldCampaignID, domain.ParamUTMID},
	{FieldFBCLID, domain.ParamFBCLID},
	{FieldGCLID, domain.ParamGCLID},
	{FieldMSCLKID, domain.ParamMSCLKID},
	{FieldTTCLID, domain.ParamTTCLID},
}

// Capture reads the attribution parameters from the page URL. A parameter
// that is missing, blank or the literal "null" is not recorded. An empty
// referrer falls back to the page URL.
func Capture(pageURL, referrer string, now time.Time) domain.TrackingSnapshot {
	snap := domain.TrackingSnapshot{
		Params:    make(map[string]string),
		Referrer:  referrer,
		Timestamp: now.UTC(),
		SessionID: uuid.NewString(),
		PageURL:   pageURL,
	}
	if snap.Referrer == "" {
		snap.Referrer = pageURL
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return snap
	}
	query := u.Query()
	for _, name := range domain.AttributionParams {
		v := query.Get(name)
		if strings.TrimSpace(v) == "" || v == MissingValue {
			continue
		}
		snap.Params[name] = v
	}
	return snap
}

// CRMFields maps a snapshot onto every CRM tracking custom field. Absent
// values are rendered as "null", which is what the CRM has always received.
func CRMFields(snap domain.TrackingSnapshot) map[string]string {
	out := make(map[string]string, len(paramFields)+4)
	for _, pf := range paramFields {
		v, ok := snap.Param(pf.param)
		if !ok {
			v = MissingValue
		}
		out[pf.field] = v
	}
	out[FieldReferrer] = orMissing(snap.Referrer)
	out[FieldSessionID] = orMissing(snap.SessionID)
	out[FieldPageURL] = orMissing(snap.PageURL)
	out[FieldTimestamp] = snap.TimestampISO()
	return out
}

func orMissing(v string) string {
	if v == "" {
		return MissingValue
	}
	return v
}
