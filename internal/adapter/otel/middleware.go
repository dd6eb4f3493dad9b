package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns a chi-compatible middleware that creates one span
// per request, named after the listener and path.
func HTTPMiddleware(listener string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, listener,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return listener + " " + r.Method + " " + r.URL.Path
			}),
		)
	}
}
