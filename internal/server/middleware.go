package server

import (
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const headerRequestID = "X-Request-ID"

// requestIDMiddleware attaches a request ID to every response, honoring one
// supplied by the caller.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects requests above the configured token-bucket rate.
func rateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests,
				"Too many requests", "rate limit exceeded, retry shortly")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware emits one access log line per request.
func loggingMiddleware(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		log.Info("%s %s -> %d (%s)",
			r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}

// recoveryMiddleware converts handler panics into 500 responses.
func recoveryMiddleware(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("Panic in handler for %s: %v", r.URL.Path, recovered)
				writeError(w, http.StatusInternalServerError,
					"Internal error", "unexpected server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
