// Package page is a headless model of the landing page the bridge runs on.
//
// A Window owns one Document parsed with golang.org/x/net/html and queried
// through goquery. Element state (input values, checkbox state) lives on the
// node attributes, so selectors always observe the current state. Events are
// dispatched synchronously with capture and bubble phases; outgoing network
// traffic goes through an explicit middleware chain registered with Use.
//
// All tree access is serialized by the document lock, so the delivery
// goroutines and the event dispatcher can share a page safely.
package page
