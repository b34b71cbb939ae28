package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

// Metrics returns a middleware that records request count, duration,
// sizes, and in-flight gauge on the service metrics. The route label
// is the matched route template, not the raw path, so path parameters
// cannot explode the cardinality.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.IncrementActiveRequests(method, route)
		defer m.DecrementActiveRequests(method, route)

		c.Next()

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		m.RecordRequest(method, route, c.Writer.Status(), time.Since(start), reqSize, respSize)
	}
}
