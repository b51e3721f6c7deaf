package webserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/fileshare/internal/webserver/service"
	"github.com/mdouchement/fileshare/internal/webserver/weberror"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

type upload struct {
	logger    logger.Logger
	db        database.Client
	storage   storage.Store
	assembler *chunk.Assembler
	validator *service.Validator
}

func (h *upload) Chunk(c echo.Context) error {
	c.Set("handler_method", "upload.Chunk")

	if err := parseMultipart(c); err != nil {
		return err
	}

	sessionID := c.FormValue("file_id")
	index, err1 := strconv.Atoi(c.FormValue("chunk_number"))
	total, err2 := strconv.Atoi(c.FormValue("total_chunks"))
	filename := c.FormValue("filename")
	if sessionID == "" || filename == "" || err1 != nil || err2 != nil {
		return weberror.New(http.StatusBadRequest, "Missing required parameters")
	}

	size := int64(-1)
	if v := strings.TrimSpace(c.FormValue("file_size")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return weberror.New(http.StatusBadRequest, "Invalid file_size")
		}
		size = n
	}

	fh, err := c.FormFile("chunk")
	if err != nil {
		return weberror.New(http.StatusBadRequest, "Missing required parameters")
	}
	r, err := fh.Open()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}
	defer r.Close()

	//

	uploader := service.NewChunkedUploader(h.logger, h.db, h.storage, h.assembler, h.validator)
	result, err := uploader.Upload(service.Chunk{
		SessionID:   sessionID,
		Index:       index,
		TotalChunks: total,
		Filename:    filename,
		FileSize:    size,
		FileType:    c.FormValue("file_type"),
	}, r)
	if err != nil {
		return weberror.From(err)
	}

	//

	if result.Upload != nil {
		return c.JSON(http.StatusOK, uploaded(result.Upload))
	}

	payload := echo.Map{
		"success":          true,
		"chunk_number":     result.Progress.Index,
		"total_chunks":     result.Progress.TotalChunks,
		"uploaded_chunks":  result.Progress.Received,
		"progress_percent": result.Progress.Percent,
		"message":          result.Progress.Message,
	}
	if result.Progress.MissingN > 0 {
		payload["missing_count"] = result.Progress.MissingN
		payload["missing_chunks"] = result.Progress.Missing
	}
	return c.JSON(http.StatusOK, payload)
}

func (h *upload) Progress(c echo.Context) error {
	c.Set("handler_method", "upload.Progress")

	var params struct {
		SessionID string `json:"file_id" form:"file_id" query:"file_id"`
	}
	if err := c.Bind(&params); err != nil || params.SessionID == "" {
		return weberror.New(http.StatusBadRequest, "Missing file_id")
	}

	uploader := service.NewChunkedUploader(h.logger, h.db, h.storage, h.assembler, h.validator)
	progress, err := uploader.Progress(params.SessionID)
	if err != nil {
		return weberror.From(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"uploaded_chunks": progress.Received,
		"total_chunks":    progress.TotalChunks,
		"progress":        progress.Percent,
	})
}

// parseMultipart reads the multipart form of the request, reporting a body over the limit as such.
func parseMultipart(c echo.Context) error {
	err := c.Request().ParseMultipartForm(multipartMemory)
	if err == nil {
		return nil
	}

	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		return herr
	}
	return weberror.New(http.StatusBadRequest, "Invalid multipart form")
}
