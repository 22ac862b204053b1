package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger logs one line per request. Operation requests also record the
// FHIR operation name so that $expand latency can be filtered in logs.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			if err != nil {
				// Let echo write the error response so the logged status is final.
				c.Error(err)
			}

			status := c.Response().Status
			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			}

			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if op := operationName(req.URL.Path); op != "" {
				evt = evt.Str("operation", op)
			}
			evt.Msg("request")

			return nil
		}
	}
}

// operationName returns the $-operation at the end of a FHIR path, if any.
func operationName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case '$':
			return path[i+1:]
		case '/':
			return ""
		}
	}
	return ""
}
