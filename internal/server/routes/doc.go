// Package routes registers the local /-/ admin surface: connectivity events
// reported by the page, background sync triggers, the offline order queue,
// notifications, skeleton placeholders, cache generations and metrics.
package routes
