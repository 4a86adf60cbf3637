package domain

import "strings"

// SubmissionFormData is the live widget field values read at trigger time.
// It is consumed once by the coordinator and not retained.
type SubmissionFormData struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (d SubmissionFormData) Trimmed() SubmissionFormData {
	return SubmissionFormData{
		Name:  strings.TrimSpace(d.Name),
		Email: strings.TrimSpace(d.Email),
		Phone: strings.TrimSpace(d.Phone),
	}
}

// Channel identifies which delivery path concluded an attempt.
type Channel string

const (
	ChannelSink      Channel = "iframe"
	ChannelBeacon    Channel = "sendBeacon"
	ChannelKeepalive Channel = "fetch-keepalive"
	ChannelSync      Channel = "sync-xhr"
	ChannelNone      Channel = ""
)

// Outcome is the terminal state of a delivery attempt.
type Outcome string

const (
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeBackupSent   Outcome = "backup_sent"
	OutcomeFailed       Outcome = "failed"
)
