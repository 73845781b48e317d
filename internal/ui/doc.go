// Package ui is the page-side half of offline support. The Controller keeps
// the visible connectivity indicator, offline-only/online-only sections and
// transient notifications in sync with the connectivity state, and drives
// resubmission of orders queued while offline. Pages served through the proxy
// are passed to Decorate so they reflect the current state on arrival.
package ui
