// Package proxy implements the caching worker that sits between the browser
// and the storefront: generation install/activate, cache-first fetch with
// offline fallbacks, background sync dispatch, and the Fiber handler that
// streams results back while rewriting CDN links and decorating HTML pages.
package proxy
