package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielmoisemontezima/splits-payment-service/internal/logging"
	"github.com/danielmoisemontezima/splits-payment-service/pkg/utils"
)

const (
	requestIDHeader = "X-Request-Id"
	reqBodyLimit    = 8 * 1024 // 8KB
	redacted        = "***redacted***"
	// unmatchedRoute labels requests that no route handled.
	unmatchedRoute = "unmatched"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600, 5000, 15000, 60000},
		},
		[]string{"method", "path"},
	)
)

var sensitiveKeys = map[string]bool{
	"card_hash":     true,
	"fingerprint":   true,
	"api_key":       true,
	"secret":        true,
	"token":         true,
	"password":      true,
	"authorization": true,
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// Metrics records request counts and latency per route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := routePattern(r)
		httpRequests.WithLabelValues(r.Method, path, http.StatusText(ww.Status())).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// RequestLogger logs every request with a request id and injects a scoped
// logger into the request context. JSON and form bodies are logged with
// sensitive fields redacted.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := utils.GetHeader(r.Header, requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
				r.Header.Set(requestIDHeader, reqID)
			}
			w.Header().Set(requestIDHeader, reqID)

			l := base.With(
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)

			var reqBodyLogged string
			if r.Body != nil && r.Body != http.NoBody {
				body, truncated, replay := peekBody(r.Body)
				// Handlers get the body unmodified; only the logged copy is redacted.
				r.Body = replay
				reqBodyLogged = string(redactBody(r.Header.Get("Content-Type"), body))
				if truncated {
					reqBodyLogged += "...truncated..."
				}
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.WithCtx(r.Context(), l)))

			status := ww.Status()
			attrs := []any{
				"route", routePattern(r),
				"status", status,
				"dur_ms", time.Since(start).Milliseconds(),
				"resp_bytes", strconv.Itoa(ww.BytesWritten()),
			}
			if reqBodyLogged != "" {
				attrs = append(attrs, "req_body", reqBodyLogged)
			}

			if status >= http.StatusInternalServerError {
				l.Error("http_request", attrs...)
				return
			}
			l.Info("http_request", attrs...)
		})
	}
}

type replayBody struct {
	io.Reader
	io.Closer
}

// peekBody reads at most reqBodyLimit+1 bytes for logging. The returned body
// yields those bytes followed by the unread rest of rc.
func peekBody(rc io.ReadCloser) (prefix []byte, truncated bool, body io.ReadCloser) {
	prefix, _ = io.ReadAll(io.LimitReader(rc, reqBodyLimit+1))
	body = replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), rc), Closer: rc}
	return prefix, len(prefix) > reqBodyLimit, body
}

func redactBody(contentType string, raw []byte) []byte {
	if len(raw) > reqBodyLimit {
		raw = raw[:reqBodyLimit]
	}
	switch {
	case strings.Contains(contentType, "application/json"):
		return redactJSON(raw)
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		return redactForm(raw)
	}
	return nil
}

func redactJSON(raw []byte) []byte {
	var m any
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw // not JSON
	}
	var scrub func(any) any
	scrub = func(x any) any {
		switch v := x.(type) {
		case map[string]any:
			for k, val := range v {
				if sensitiveKeys[strings.ToLower(k)] {
					v[k] = redacted
					continue
				}
				v[k] = scrub(val)
			}
			return v
		case []any:
			for i := range v {
				v[i] = scrub(v[i])
			}
			return v
		default:
			return v
		}
	}
	b, err := json.Marshal(scrub(m))
	if err != nil {
		return raw
	}
	return b
}

func redactForm(raw []byte) []byte {
	pairs := strings.Split(string(raw), "&")
	for i, pair := range pairs {
		key, _, found := strings.Cut(pair, "=")
		if found && sensitiveKeys[strings.ToLower(key)] {
			pairs[i] = key + "=" + redacted
		}
	}
	return []byte(strings.Join(pairs, "&"))
}
