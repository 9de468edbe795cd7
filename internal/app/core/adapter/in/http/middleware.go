package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-credit-ledger/pkg/log"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		ctx = log.WithLogField(ctx, "request_id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.L(r.Context()).WithField("panic", rec).
					WithField("path", r.URL.Path).
					Error("panic recovered")
				writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		entry := log.L(r.Context()).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", recorder.statusCode).
			WithField("duration_ms", time.Since(start).Milliseconds())
		switch {
		case recorder.statusCode >= 500:
			entry.Error("http request completed")
		case recorder.statusCode >= 400:
			entry.Warn("http request completed")
		default:
			entry.Debug("http request completed")
		}
	})
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return s
	}
	return ""
}
