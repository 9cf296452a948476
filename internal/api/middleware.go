package api

import (
	"net/http"
	"time"

	"mdview/internal/logging"
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

const (
	cacheControlNoStore = "no-store, must-revalidate"
	cacheControlNoCache = "no-cache"
)

func setSecurityHeaders(w http.ResponseWriter, cacheControl string) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", "nosniff")
	if cacheControl != "" {
		headers.Set("Cache-Control", cacheControl)
	}
}

func securityHeadersMiddleware(cacheControl string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControl)
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(token string, next apiHandler) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) *apiError {
		if !validateToken(r, token) {
			return &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"}
		}
		return next(w, r)
	}
}

func jsonErrorMiddleware(logger *logging.Logger, next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			if err.Status >= http.StatusInternalServerError && logger != nil {
				logger.Warn("api request failed", map[string]string{
					"path":    r.URL.Path,
					"status":  http.StatusText(err.Status),
					"code":    errorCode(err),
					"message": err.Message,
				})
			}
			writeJSONError(w, err)
		}
	}
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		if logger != nil {
			logger.Debug("api request", map[string]string{
				"http.route": r.URL.Path,
				"method":     r.Method,
				"duration":   time.Since(started).String(),
			})
		}
	})
}

func methodNotAllowed(w http.ResponseWriter, allow string) *apiError {
	w.Header().Set("Allow", allow)
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}

func restHandler(token string, logger *logging.Logger, handler apiHandler) http.Handler {
	return loggingMiddleware(logger, securityHeadersMiddleware(cacheControlNoStore, jsonErrorMiddleware(logger, authMiddleware(token, handler))))
}
