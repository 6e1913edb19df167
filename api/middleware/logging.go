package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// quietPaths are polled by load balancers and scrapers; they log at debug.
var quietPaths = map[string]bool{
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Logging writes one access line per request once the handler returns. The
// level follows the status: 5xx is an error, 4xx a warning.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			started := time.Now()

			next.ServeHTTP(rec, r)

			status := rec.statusOrOK()
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"route":       routePattern(r),
				"status":      status,
				"bytes":       rec.written,
				"duration_ms": time.Since(started).Milliseconds(),
			})
			switch {
			case status >= http.StatusInternalServerError:
				logg.Error(ctx, "http.request", nil)
			case status >= http.StatusBadRequest:
				logg.Warn(ctx, "http.request")
			case quietPaths[r.URL.Path]:
				logg.Debug(ctx, "http.request")
			default:
				logg.Info(ctx, "http.request")
			}
		})
	}
}

// routePattern is the matched chi pattern, e.g. /api/v1/assignments/{id}/transitions.
func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return ""
	}
	return strings.ReplaceAll(rc.RoutePattern(), "/*/", "/")
}

// statusRecorder keeps the status and body size. Flush is forwarded so the
// position stream still works behind it.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) statusOrOK() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
