package submission

import "errors"

var (
	// ErrFormNotFound means the target form is missing from the page. It is a
	// configuration defect and is never retried.
	ErrFormNotFound = errors.New("submission: target form not found")
	// ErrNativeSubmit wraps a failure of the form's own submit call. The race
	// continues after it; it only surfaces joined to ErrDeliveryFailed.
	ErrNativeSubmit = errors.New("submission: native submit failed")
	// ErrDeliveryFailed means every backup method was tried and none was
	// accepted.
	ErrDeliveryFailed = errors.New("submission: all backup methods failed")
)
