package webserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/config"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/shortlink"
	"github.com/mdouchement/fileshare/internal/storage"
	middlewarepkg "github.com/mdouchement/fileshare/internal/webserver/middleware"
	"github.com/mdouchement/fileshare/internal/webserver/service"
	"github.com/mdouchement/logger"
)

const (
	// multipartOverhead is the room left for form fields and part headers around the file bytes.
	multipartOverhead = 64 << 10
	// multipartMemory is the part of a multipart form kept in memory, the rest goes to temporary files.
	multipartMemory = 32 << 20
)

// A Controller is an Iversion Of Control pattern used to init the server package.
type Controller struct {
	Version   string
	Logger    logger.Logger
	Config    *config.Config
	Database  database.Client
	Storage   storage.Store
	Assembler *chunk.Assembler
	Resolver  *shortlink.Resolver
	//
	DumpRequests bool
}

// EchoEngine instantiates the wep server.
func EchoEngine(ctrl Controller) *echo.Echo {
	engine := echo.New()
	// engine.Use(middleware.Recover())
	engine.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		// Downloads keep their Content-Length.
		Skipper: func(c echo.Context) bool {
			return strings.Contains(c.Path(), "download")
		},
	}))
	engine.Use(middlewarepkg.Logger(ctrl.Logger))
	if ctrl.DumpRequests {
		engine.Use(middlewarepkg.Dumpper(ctrl.Logger))
	}

	engine.HTTPErrorHandler = middlewarepkg.NewHTTPErrorHandler(ctrl.Logger)

	engine.Pre(middleware.RemoveTrailingSlash())
	engine.Pre(middleware.Rewrite(map[string]string{
		"/": "/version",
	}))

	//
	//
	//

	router := engine.Group("")
	validator := service.NewValidator(ctrl.Config)
	// Bodies parsed as whole multipart forms never exceed the size ceiling.
	bodylimit := middleware.BodyLimit(fmt.Sprintf("%dB", ctrl.Config.MaxUploadSize+multipartOverhead))

	// Generic handlers
	//
	router.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	})

	// Files
	//
	file := &file{
		logger:    ctrl.Logger,
		cfg:       ctrl.Config,
		db:        ctrl.Database,
		storage:   ctrl.Storage,
		validator: validator,
		links:     ctrl.Resolver,
	}
	router.POST("/api/upload", file.Upload)
	router.GET("/api/files", file.List)
	router.GET("/api/files/:id", file.Show)
	router.DELETE("/api/files/:id", file.Delete)
	router.HEAD("/download/:id", file.Download)
	router.GET("/download/:id", file.Download)
	router.POST("/delete/:id", file.Delete)
	router.DELETE("/delete/:id", file.Delete)

	// Chunked uploads
	//
	upload := &upload{
		logger:    ctrl.Logger,
		db:        ctrl.Database,
		storage:   ctrl.Storage,
		assembler: ctrl.Assembler,
		validator: validator,
	}
	router.POST("/api/chunked-upload", upload.Chunk, bodylimit)
	router.POST("/api/upload-progress", upload.Progress)

	// Short links
	//
	link := &link{
		logger:   ctrl.Logger,
		baseURL:  ctrl.Config.BaseURL,
		resolver: ctrl.Resolver,
	}
	router.GET("/api/links", link.List)
	router.POST("/share/create", link.Create)
	router.GET("/share/:code", link.Resolve)
	router.GET("/share/create/share/:code", link.Legacy)

	// Administration
	//
	admin := &admin{file: file}
	adm := router.Group("/admin")
	adm.POST("/verify", admin.VerifyAll)
	adm.POST("/files/:id/verify", admin.Verify)
	adm.POST("/files/:id/rehash", admin.Rehash)
	adm.POST("/files/:id/replace", admin.Replace, bodylimit)
	adm.POST("/files/:id/activate", admin.Activate)
	adm.POST("/files/:id/deactivate", admin.Deactivate)
	adm.POST("/files/:id/reset-downloads", admin.ResetDownloads)
	adm.GET("/files/:id/download", admin.Download)

	return engine
}

// PrintRoutes prints the Echo engin exposed routes.
func PrintRoutes(e *echo.Echo) {
	ignored := map[string]bool{
		"":   true,
		".":  true,
		"/*": true,
	}

	routes := e.Routes()
	sort.Slice(routes, func(i int, j int) bool {
		return routes[i].Path < routes[j].Path
	})

	fmt.Println("Routes:")
	for _, route := range routes {
		if ignored[route.Path] {
			continue
		}
		fmt.Printf("%6s %s\n", route.Method, route.Path)
	}
}
