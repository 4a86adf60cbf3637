// Package submission delivers captured lead data into the CRM form and makes
// sure the submission leaves the page exactly once.
//
// Deliver populates the form, starts the native submission into the hidden
// sink frame and races it against the page lifecycle. The sink frame's load
// event acknowledges delivery. If the page is about to go away first, or the
// backup timer fires, the live form values are re-read and sent out of band
// through a beacon, a keepalive request or a synchronous request, in that
// order. The first signal to arrive decides the result; every later signal
// is a no-op.
package submission
