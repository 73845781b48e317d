// Package cache defines the disk-backed response store used by the cache
// proxy. Entries live under StoragePath/cache/<generation>/<host>/<path>; a
// generation is one named snapshot of the store and exactly one of them is
// current at a time. Each entry is a body file plus a small JSON sidecar with
// the status and headers, both written with temp file + rename so readers
// never observe half-written responses.
package cache
