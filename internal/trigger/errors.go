package trigger

import "errors"

// ErrValidation marks a lead rejected before delivery.
var ErrValidation = errors.New("trigger: validation failed")

// User-facing validation messages.
const (
	MsgNameRequired = "Please enter your full name."
	MsgInvalidEmail = "Please enter a valid email address."
)
