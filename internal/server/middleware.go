package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/auth"
	"github.com/bobmcallan/robotmw/internal/common"
)

// responseWriter wraps http.ResponseWriter to capture status and bytes
// written for the access log.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// recoveryMiddleware catches panics from handlers and returns ERR_INTERNAL.
func recoveryMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Msg("panic recovered in HTTP handler")
					WriteError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware permits cross-origin requests from an admin dashboard,
// built on go-chi/cors rather than hand-rolled header writes.
func corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Correlation-ID"},
		MaxAge:           300,
	})
}

// correlationIDMiddleware propagates the X-Correlation-ID request header,
// or generates one when it is absent, and sets it on the response;
// loggingMiddleware records it on the access log line. Events published
// by handlers carry the command's trace id, not this value.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Correlation-ID")
		if corrID == "" {
			corrID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corrID)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware writes one structured access log line per request
// that reaches it. It is the innermost wrapper (see applyMiddleware), so
// requests rejected by bearerTokenMiddleware and CORS preflights answered
// by corsMiddleware are not logged.
func loggingMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			dur := time.Since(start)
			corrID := w.Header().Get("X-Correlation-ID")

			event := logger.Debug()
			if rw.statusCode >= 500 {
				event = logger.Error()
			} else if rw.statusCode >= 400 {
				event = logger.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Int("bytes", rw.bytesWritten).
				Dur("duration", dur).
				Str("correlation_id", corrID).
				Msg("http request")
		})
	}
}

// bearerTokenMiddleware enforces the shared-secret auth contract of
// spec §4.2, exempting /health and /metrics.
func bearerTokenMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.Exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if err := authenticator.Authenticate(r.Header.Get("Authorization")); err != nil {
				appErr, ok := apperr.As(err)
				if !ok {
					appErr = apperr.New(apperr.CodeUnauthorized, err.Error())
				}
				WriteAppError(w, appErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// applyMiddleware wraps handler with the full middleware chain. Each
// wrapper encloses the previous one, so the last applied (recovery) is
// outermost and runs first, followed by CORS, correlation id, bearer
// auth, and access logging next to the handler.
func applyMiddleware(handler http.Handler, logger *common.Logger, authenticator *auth.Authenticator) http.Handler {
	handler = loggingMiddleware(logger)(handler)
	handler = bearerTokenMiddleware(authenticator)(handler)
	handler = correlationIDMiddleware(handler)
	handler = corsMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)
	return handler
}
