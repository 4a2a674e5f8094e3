package obs

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// statusWriter remembers the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestContextMiddleware attaches a request id (and a W3C trace id when
// the caller sent a traceparent) to the request context and echoes the id
// back in X-Request-Id.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
		corr := Correlation{
			RequestID:   strings.TrimSpace(r.Header.Get("X-Request-Id")),
			TraceID:     traceIDOf(traceparent),
			Traceparent: traceparent,
		}
		switch {
		case corr.RequestID != "":
		case corr.TraceID != "":
			corr.RequestID = corr.TraceID
		default:
			corr.RequestID = newRequestID()
		}
		w.Header().Set("X-Request-Id", corr.RequestID)
		next.ServeHTTP(w, r.WithContext(WithCorrelation(r.Context(), corr)))
	})
}

// AccessLogMiddleware logs one http_access event per request. Server errors
// are logged at warn so they show up at the default level.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		level := slog.LevelDebug
		if sw.code() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		From(r.Context()).Log(r.Context(), level, "http_access",
			"pkg", pkg,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.code(),
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", sw.written,
		)
	})
}

// RecoverMiddleware turns a handler panic into a 500 with the same JSON
// error shape the API uses.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil || rec == http.ErrAbortHandler {
				if rec != nil {
					panic(rec)
				}
				return
			}
			From(r.Context()).Error("http_panic", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal error","code":"internal"}` + "\n"))
		}()
		next.ServeHTTP(w, r)
	})
}

// traceIDOf returns the trace id of a version-00 traceparent header, or ""
// when the header is missing or malformed.
func traceIDOf(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	id := strings.ToLower(parts[1])
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 16 || id == strings.Repeat("0", 32) {
		return ""
	}
	return id
}
