// Package orders keeps orders captured while the storefront is unreachable and
// resubmits them once connectivity returns. The queue lives in a single named
// slot of the local store as a JSON list; the page controller and the
// background reconciler share one Syncer so their read-submit-clear cycles
// never interleave.
package orders
