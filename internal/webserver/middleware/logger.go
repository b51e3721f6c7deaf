package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
)

// Logger is a middleware that logs each request once it has been rendered.
func Logger(log logger.Logger) echo.MiddlewareFunc {
	log = log.WithPrefix("[http]")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err) // Renders the error so the status below is the real one.
			}

			req := c.Request()
			res := c.Response()

			l := log.WithField("status", res.Status).
				WithField("latency", time.Since(start).String()).
				WithField("ip", c.RealIP()).
				WithField("bytes_out", res.Size)
			if method, ok := c.Get("handler_method").(string); ok {
				l = l.WithField("handler", method)
			}
			l.Infof("%s %s", req.Method, req.URL.Path)

			return nil
		}
	}
}
