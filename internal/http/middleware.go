package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/idempotency"
	"github.com/robertarktes/fleet-rental-holds/internal/identity"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	minIdempotencyKey = 8
	maxIdempotencyKey = 128
)

type loggerKey struct{}

// IdempotencyStore replays responses of repeated POST requests.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
	Begin(ctx context.Context, key string) (bool, error)
	End(ctx context.Context, key string) error
}

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			entry.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(started).Milliseconds()).
				Debug("request served")
		})
	}
}

func requestLogger(r *http.Request, fallback observability.Logger) observability.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(observability.Logger); ok {
		return l
	}
	return fallback
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
	})
}

// IdentityMiddleware rejects requests that carry no holder identity.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holderID := identity.FromRequest(r)
		if holderID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error:   domain.Code(domain.ErrUnauthenticated),
				Message: domain.ErrUnauthenticated.Error(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithHolder(r.Context(), holderID)))
	})
}

// RateLimitMiddleware applies one fixed window per holder and a wider one per
// client IP. Limiter failures let the request through.
func RateLimitMiddleware(rl Limiter, perMinute int, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keys := []rateWindow{{key: "ip:" + clientIP(r), rate: perMinute * 10}}
			if holderID, err := identity.HolderFromContext(r.Context()); err == nil {
				keys = append(keys, rateWindow{key: "holder:" + holderID, rate: perMinute})
			}

			for _, k := range keys {
				ok, err := rl.Allow(r.Context(), k.key, k.rate, time.Minute)
				if err != nil {
					requestLogger(r, logger).WithError(err).Warn("rate limiter unavailable")
					break
				}
				if !ok {
					w.Header().Set("Retry-After", "60")
					writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", Message: "rate limit exceeded"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type rateWindow struct {
	key  string
	rate int
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST that carries an
// Idempotency-Key already seen for the same holder and route. Server errors are
// not stored so that the client can retry them.
func IdempotencyMiddleware(idemp IdempotencyStore, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) < minIdempotencyKey || len(clientKey) > maxIdempotencyKey {
				writeJSON(w, http.StatusBadRequest, errorResponse{
					Error:   domain.Code(domain.ErrInvalidInput),
					Message: "invalid " + IdempotencyHeader,
				})
				return
			}

			log := requestLogger(r, logger)
			holderID, _ := identity.HolderFromContext(r.Context())
			key := idempotency.Key(holderID, r.Method+" "+r.URL.Path, clientKey)

			existing, err := idemp.Get(r.Context(), key)
			if err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			claimed, err := idemp.Begin(r.Context(), key)
			if err != nil {
				log.WithError(err).Warn("idempotency lock failed")
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "request_in_progress", Message: "a request with this key is in progress"})
				return
			}
			defer func() {
				if err := idemp.End(context.WithoutCancel(r.Context()), key); err != nil {
					log.WithError(err).Warn("idempotency unlock failed")
				}
			}()

			cw := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status == 0 || cw.status >= http.StatusInternalServerError {
				return
			}
			err = idemp.Set(context.WithoutCancel(r.Context()), key, idempotency.Response{
				Status:      cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Result:      cw.body.Bytes(),
			})
			if err != nil {
				log.WithError(errors.Wrap(err, "store idempotent response")).Warn("idempotency store failed")
			}
		})
	}
}
