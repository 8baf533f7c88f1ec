package httpmw

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// Recover turns a handler panic into a 500, logs it with the stack, and
// calls onPanic (typically a metrics counter) when set. http.ErrAbortHandler
// is re-raised so net/http can abort the connection quietly.
func Recover(logger log.Logger, onPanic func()) Middleware {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.Wrap(e, "handler panic")
				} else {
					err = xerrors.Newf("handler panic: %v", rec)
				}
				logger.With(
					"http.request.method", r.Method,
					"http.route", RoutePattern(r),
					"request_id", RequestIDFromContext(r.Context()),
				).Error(r.Context(), err, "httpserver panic recovered", "stack", string(debug.Stack()))

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
