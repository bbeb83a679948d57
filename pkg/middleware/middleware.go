package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnosis/afyaplus/internal/http/response"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestIDLen = 64

// RequestID propagates X-Request-ID, minting a UUID when the caller sent none
// or sent something unusable as a log field.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// Logging writes one access record per request.
func Logging(next http.Handler) http.Handler {
	return middleware.RequestLogger(accessLogger{})(next)
}

type accessLogger struct{}

func (accessLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &accessEntry{request: r}
}

type accessEntry struct {
	request *http.Request
}

// Write logs 5xx at error, 4xx at warn and the rest at info.
func (e *accessEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	r := e.request
	logger.Log(r.Context(), level, "HTTP request completed",
		"method", r.Method,
		"path", r.URL.Path,
		"route", routePattern(r),
		"status", status,
		"bytes", bytes,
		"elapsed_ms", elapsed.Milliseconds(),
		"remote_addr", ClientIP(r),
	)
}

func (e *accessEntry) Panic(v interface{}, stack []byte) {
	logger.ErrorContext(e.request.Context(), "HTTP request panic",
		"panic", v,
		"stack", string(stack),
		"method", e.request.Method,
		"path", e.request.URL.Path,
	)
}

// CORS builds the cross-origin handler for the given allow-list.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// ServiceName adds service name to context for logging
func ServiceName(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), logger.ServiceKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by service, route and status.",
	}, []string{"service", "method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by service and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "route"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration)
}

// Metrics serves /metrics and records per-route counters for everything else.
func Metrics(next http.Handler) http.Handler {
	metricsHandler := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			metricsHandler.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		service, _ := r.Context().Value(logger.ServiceKey).(string)
		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(service, r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(service, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps label cardinality bounded by using the chi pattern, not the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Health answers /healthz and /health before routing.
func Health(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && r.URL.Path != "/health" {
			next.ServeHTTP(w, r)
			return
		}
		service, _ := r.Context().Value(logger.ServiceKey).(string)
		response.JSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
}
