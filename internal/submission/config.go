package submission

import (
	"time"

	"github.com/ignite/formbridge/internal/domain"
)

// Field ids of the CRM hosted form.
const (
	DefaultFirstNameField = "inf_field_FirstName"
	DefaultLastNameField  = "inf_field_LastName"
	DefaultEmailField     = "inf_field_Email"
	DefaultPhoneField     = "inf_field_Phone1"
)

// BackupMultiplier fixes the backup timeout relative to the primary one.
const BackupMultiplier = 3

// Config describes the target form.
type Config struct {
	FormID string
	SinkID string
	// PrimaryTimeout is how long the native submission gets before a hidden
	// page escalates to a backup. The backup timer is always three times it.
	PrimaryTimeout time.Duration

	Consent domain.ConsentField
	// TrackingFields restricts which CRM tracking fields are written. Empty
	// means every tracking field the form declares.
	TrackingFields []string

	FirstNameField string
	LastNameField  string
	EmailField     string
	PhoneField     string

	KeepaliveTimeout time.Duration
}

// ConfigFrom derives a coordinator config from an extracted bridge config.
func ConfigFrom(bc domain.BridgeConfig) Config {
	bc.ApplyDefaults()
	return Config{
		FormID:         bc.FormID,
		PrimaryTimeout: time.Duration(bc.PrimaryTimeout) * time.Millisecond,
		Consent:        bc.Consent,
		TrackingFields: append([]string(nil), bc.TrackingFields...),
	}
}

func (c *Config) applyDefaults() {
	if c.SinkID == "" {
		c.SinkID = domain.DefaultSinkFrameID
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = time.Second
	}
	if c.FirstNameField == "" {
		c.FirstNameField = DefaultFirstNameField
	}
	if c.LastNameField == "" {
		c.LastNameField = DefaultLastNameField
	}
	if c.EmailField == "" {
		c.EmailField = DefaultEmailField
	}
	if c.PhoneField == "" {
		c.PhoneField = DefaultPhoneField
	}
	if c.Consent.ID != "" && c.Consent.Name == "" {
		c.Consent.Name = c.Consent.ID
	}
	if c.Consent.Value == "" {
		c.Consent.Value = domain.DefaultConsentValue
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 5 * time.Second
	}
}

// BackupTimeout is the deadline after which a backup is forced.
func (c Config) BackupTimeout() time.Duration {
	return BackupMultiplier * c.PrimaryTimeout
}
