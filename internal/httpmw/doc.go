// Package httpmw holds the middleware stack in front of the slug API.
//
// httpserver.NewHandler composes it outermost first: security headers,
// panic recovery, request ID, client IP, rate limiting, otel, content
// headers, trace headers, metrics, request logger, then the chi router.
//
// Request bodies, query values and free-form headers are never logged.
package httpmw
