// Package server hosts the Fiber HTTP service, request middleware chain, and
// the origin registry that maps local paths onto the storefront upstream or
// one of the allow-listed CDN hosts mounted under /-/cdn/<host>/.
// The package also owns the shared upstream http.Client and header helpers
// reused by the proxy and order submission. Admin routes live in
// server/routes so this package keeps its exports narrow.
package server
