package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/metrics"
	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/observability/logging"
)

// RequestContext attaches a request id and a request-scoped logger, then logs
// the finished request. Errors are rendered here so the logged status is final.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" || len(requestID) > 64 {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			log := logging.FromContext(req.Context()).WithRequest(requestID, "")
			c.SetRequest(req.WithContext(logging.ToContext(req.Context(), log)))

			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			log.Info("http request",
				"method", req.Method,
				"route", routeOf(c),
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// RequestMetrics records every request by method, route template and status.
func RequestMetrics(exporter *metrics.PrometheusExporter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			exporter.RecordHTTPRequest(c.Request().Method, routeOf(c), c.Response().Status, time.Since(start))
			return nil
		}
	}
}

// routeOf returns the matched route template; raw paths would explode label
// cardinality.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
