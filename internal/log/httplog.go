package log

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// HTTPMiddleware logs one line per request to logger: errors (5xx) at error
// level, everything else at debug.
func HTTPMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, next, requestFormatter(logger))
	}
}

// requestFormatter sends the request line to zap; the writer is unused.
func requestFormatter(logger *zap.SugaredLogger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		fields := []interface{}{
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"duration_ms", time.Since(p.TimeStamp).Milliseconds(),
			"size", p.Size,
			"remote_addr", p.Request.RemoteAddr,
			"user_agent", p.Request.UserAgent(),
		}
		if p.StatusCode >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
			return
		}
		logger.Debugw("request", fields...)
	}
}
