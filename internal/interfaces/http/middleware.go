package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/logging"
	"github.com/fepforge/fepforge/internal/infrastructure/monitoring/prometheus"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// requestID tags every request with an ID, honouring one supplied by the
// caller so IDs survive proxy hops.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// requestLogging logs one line per request.  Probe endpoints are skipped to
// keep the log readable; server errors are raised to Error level.
func requestLogging(log logging.Logger) gin.HandlerFunc {
	skip := map[string]struct{}{
		"/healthz": {},
		"/readyz":  {},
		"/metrics": {},
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		started := time.Now()
		c.Next()

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("duration", time.Since(started)),
			logging.String("request_id", c.GetString(requestIDKey)),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// observeRequests feeds request counters and latency histograms.  The route
// template is used instead of the raw path so IDs do not explode label
// cardinality.
func observeRequests(m *prometheus.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(started))
	}
}
