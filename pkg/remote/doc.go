// Package remote discovers kernel files on the archive.
//
// The archive publishes plain HTML directory indexes. A Lister downloads one
// index and returns the names of the files linked from it, in page order,
// keeping only links that resolve to direct children of the listed directory.
// CachedLister memoizes listings for the lifetime of one provisioning run so
// specs that share a remote folder trigger a single request.
//
// Tests inject a MockHTTPFetcher or an httptest server through HTTPFetcher.
package remote
