package extract

import "errors"

// ErrMissingConfig is returned by Validate when a required value could not
// be scraped from the snippets.
var ErrMissingConfig = errors.New("extract: missing configuration")
