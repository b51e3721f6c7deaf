package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/fileshare/internal/webserver/weberror"
	"github.com/mdouchement/logger"
)

// NewHTTPErrorHandler is a middleware that formats rendered errors.
func NewHTTPErrorHandler(log logger.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var e *weberror.Error
		switch err := err.(type) {
		case *echo.HTTPError:
			e = weberror.New(err.Code, http.StatusText(err.Code)).(*weberror.Error)
			if msg, ok := err.Message.(string); ok {
				e.Message = msg
			}
		default:
			e = weberror.From(err).(*weberror.Error)
		}

		var err2 error
		if c.Request().Method == http.MethodHead {
			err2 = c.NoContent(e.Code)
		} else {
			err2 = c.JSON(e.Code, e.Payload())
		}

		if e.Code >= http.StatusInternalServerError {
			log.Error(err)
		} else {
			log.Debug(err)
		}
		if err2 != nil {
			log.Errorf("HTTPErrorHandler: %s", err2)
		}
	}
}
