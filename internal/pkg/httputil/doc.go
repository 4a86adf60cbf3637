// Package httputil writes the JSON envelopes and script payloads returned by
// the bridge service. Handlers go through these helpers so every error body
// has the same shape.
package httputil
