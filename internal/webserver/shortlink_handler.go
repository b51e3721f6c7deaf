package webserver

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/fileshare/internal/shortlink"
	"github.com/mdouchement/fileshare/internal/webserver/serializer"
	"github.com/mdouchement/fileshare/internal/webserver/weberror"
	"github.com/mdouchement/logger"
)

var unavailablePage = template.Must(template.New("unavailable").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>File unavailable</title></head>
<body>
<h1>File unavailable</h1>
<p>The file behind <code>{{.Code}}</code> is no longer available.</p>
<p>{{.Reason}}</p>
</body>
</html>
`))

type link struct {
	logger   logger.Logger
	baseURL  string
	resolver *shortlink.Resolver
}

func (h *link) List(c echo.Context) error {
	c.Set("handler_method", "link.List")

	links, err := h.resolver.List()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"links":   serializer.ShortLinks(links),
	})
}

func (h *link) Create(c echo.Context) error {
	c.Set("handler_method", "link.Create")

	var params struct {
		Code      string `json:"code"       form:"code"`
		TargetURL string `json:"target_url" form:"target_url"`
	}
	if err := c.Bind(&params); err != nil {
		return weberror.New(http.StatusBadRequest, "Invalid parameters")
	}

	link, err := h.resolver.Create(params.Code, params.TargetURL)
	if err != nil {
		return weberror.From(err)
	}

	payload := serializer.ShortLink(link)
	payload["success"] = true
	return c.JSON(http.StatusCreated, payload)
}

func (h *link) Resolve(c echo.Context) error {
	c.Set("handler_method", "link.Resolve")

	code := c.Param("code")
	outcome, err := h.resolver.Resolve(c.Request().Context(), code, h.base(c))
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	//

	switch outcome.Kind {
	case shortlink.Redirect:
		return c.Redirect(http.StatusFound, outcome.Target)
	case shortlink.Unavailable:
		if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
			return c.JSON(http.StatusGone, echo.Map{
				"success": false,
				"error":   outcome.Kind.String(),
				"message": outcome.Reason,
			})
		}

		var page bytes.Buffer
		err = unavailablePage.Execute(&page, echo.Map{
			"Code":   code,
			"Reason": outcome.Reason,
		})
		if err != nil {
			return weberror.New(http.StatusInternalServerError, err.Error())
		}
		return c.HTMLBlob(http.StatusGone, page.Bytes())
	default:
		return weberror.New(http.StatusNotFound, "Short link not found")
	}
}

// Legacy redirects the old nested share URLs.
func (h *link) Legacy(c echo.Context) error {
	c.Set("handler_method", "link.Legacy")

	return c.Redirect(http.StatusMovedPermanently, "/share/"+c.Param("code"))
}

// base returns the URL relative targets are probed against.
func (h *link) base(c echo.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	return c.Scheme() + "://" + c.Request().Host
}
