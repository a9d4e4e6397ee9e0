package api

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	ActorKey     contextKey = "actor"
	RequestIDKey contextKey = "requestID"
)

// ActorFromCtx returns the caller identity set by the actor middleware.
func ActorFromCtx(ctx context.Context) string {
	if a, ok := ctx.Value(ActorKey).(string); ok {
		return a
	}
	return ""
}

func RequestIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// actorMiddleware copies the authenticated user forwarded by the upstream
// proxy into the request context.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get("X-User-Id"))
		ctx := context.WithValue(r.Context(), ActorKey, actor)
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = context.WithValue(ctx, RequestIDKey, reqID)
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWriter captures the status code and, for failures, the body.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode >= 400 {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush lets streaming handlers push through the access log wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return r.RemoteAddr
}

// accessLog writes one line per request.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			ev := log.Info()
			if rw.statusCode >= 500 {
				ev = log.Error()
			} else if rw.statusCode >= 400 {
				ev = log.Warn().Str("response", strings.TrimSpace(rw.body.String()))
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Str("client_ip", clientIP(r)).
				Str("actor", ActorFromCtx(r.Context())).
				Str("request_id", RequestIDFromCtx(r.Context())).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
