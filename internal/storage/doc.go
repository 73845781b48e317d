// Package storage implements the local device store shared by the page
// controller and the background reconciler. Each named slot holds one opaque
// value plus a revision counter; writers pass the revision they read so that
// two contexts can never silently overwrite each other's queue updates.
package storage
