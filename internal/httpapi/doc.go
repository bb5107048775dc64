// Package httpapi exposes the marketplace over a JSON HTTP API.
//
// All /api routes require a bearer token; /health does not. Handlers are
// thin: they decode JSON, pull the viewer from the request context, call the
// messaging service or store, and map errors onto status codes:
//
//	ErrInvalidRequest    → 400
//	ErrForbidden         → 403
//	ErrNotFound          → 404
//	ErrStoreUnavailable  → 503
//
// Anything else is a 500 with the detail logged, never echoed to the client.
package httpapi
