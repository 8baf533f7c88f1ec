package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const shortHashLen = 12

// ContentInfo reports the active content snapshot. content.Manager
// satisfies it.
type ContentInfo interface {
	ContentVersion() string
	ContentHash() string
}

// ContentHeaders stamps responses with the content snapshot that served
// them (X-Content-Version, X-Content-Hash) and tags the span likewise.
// Nothing is set before any content is loaded.
func ContentHeaders(info ContentInfo) Middleware {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ver, hash := info.ContentVersion(), info.ContentHash()
			span := trace.SpanFromContext(r.Context())
			if ver != "" {
				w.Header().Set("X-Content-Version", ver)
				span.SetAttributes(attribute.String("content.version", ver))
			}
			if hash != "" {
				short := hash
				if len(short) > shortHashLen {
					short = short[:shortHashLen]
				}
				w.Header().Set("X-Content-Hash", short)
				span.SetAttributes(attribute.String("content.hash", hash))
			}
			next.ServeHTTP(w, r)
		})
	}
}
