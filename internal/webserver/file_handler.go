package webserver

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/fileshare/internal/config"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/mdouchement/fileshare/internal/integrity"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/fileshare/internal/webserver/serializer"
	"github.com/mdouchement/fileshare/internal/webserver/service"
	"github.com/mdouchement/fileshare/internal/webserver/weberror"
	"github.com/mdouchement/fileshare/internal/xpath"
	"github.com/mdouchement/logger"
)

// Download response headers.
const (
	HeaderMD5              = "X-File-MD5"
	HeaderSHA256           = "X-File-SHA256"
	HeaderIntegrityStatus  = "X-Integrity-Status"
	HeaderIntegrityWarning = "X-Integrity-Warning"
)

type file struct {
	logger    logger.Logger
	cfg       *config.Config
	db        database.Client
	storage   storage.Store
	validator *service.Validator
	links     service.LinkCascader
}

func (h *file) List(c echo.Context) error {
	c.Set("handler_method", "file.List")

	files, err := h.db.ActiveFiles()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"files":   serializer.Files(files),
	})
}

func (h *file) Show(c echo.Context) error {
	c.Set("handler_method", "file.Show")

	file, err := h.load(c.Param("id"), false)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, serializer.File(file))
}

// Upload streams the multipart field "file" to the content store without buffering the whole body.
func (h *file) Upload(c echo.Context) error {
	c.Set("handler_method", "file.Upload")

	if err := h.validator.Size(c.Request().ContentLength); err != nil {
		return weberror.From(err)
	}

	reader, err := c.Request().MultipartReader()
	if err != nil {
		return weberror.New(http.StatusBadRequest, "No file provided")
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return weberror.New(http.StatusBadRequest, "No file provided")
		}
		if err != nil {
			return weberror.New(http.StatusBadRequest, err.Error())
		}

		if part.FormName() != "file" {
			part.Close()
			continue
		}

		//

		uploader := service.NewFileUploader(h.logger, h.db, h.storage, h.validator)
		upload, err := uploader.Upload(part.FileName(), part.Header.Get(echo.HeaderContentType), -1, part)
		part.Close()
		if err != nil {
			return weberror.From(err)
		}

		return c.JSON(http.StatusOK, uploaded(upload))
	}
}

func (h *file) Download(c echo.Context) error {
	c.Set("handler_method", "file.Download")

	file, err := h.load(c.Param("id"), false)
	if err != nil {
		return err
	}

	return h.stream(c, file, h.cfg.VerifyOnDownload)
}

func (h *file) Delete(c echo.Context) error {
	c.Set("handler_method", "file.Delete")

	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	//

	n, err := service.NewFileDestroyer(h.logger, h.db, h.storage, h.links, file).Destroy()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"message":       "File deleted successfully",
		"deleted_links": n,
	})
}

// stream renders the file content. HEAD requests only get the headers and are not counted.
func (h *file) stream(c echo.Context, file *model.File, verify bool) error {
	head := c.Request().Method == http.MethodHead
	downloader := service.NewFileDownloader(h.db, h.storage, file, verify && !head)

	r, err := downloader.Stream()
	if err != nil {
		if failure.Is(err, failure.KindNotFound) {
			h.logger.Errorf("Content of %s is missing from storage (%s)", file.ID, file.Path)
			return weberror.New(http.StatusNotFound, "File not found on disk")
		}
		return weberror.From(err)
	}
	defer r.Close()

	//

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": downloader.Filename(),
	}))
	size, err := h.storage.Stat(file.Path)
	if err != nil {
		size = downloader.Size()
	}
	header.Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
	header.Set(echo.HeaderLastModified, lastModified(file))
	if digests := downloader.Digests(); digests.Complete() {
		header.Set(HeaderMD5, digests.MD5)
		header.Set(HeaderSHA256, digests.SHA256)
	}
	if status := downloader.Status(); status != "" {
		header.Set(HeaderIntegrityStatus, string(status))
	}
	if warning := downloader.Warning(); warning != nil {
		h.logger.Warnf("Serving corrupted file %s (%s)", file.ID, file.Filename)
		header.Set(HeaderIntegrityWarning, failure.Message(warning))
	}

	if head {
		header.Set(echo.HeaderContentType, downloader.ContentType())
		return c.NoContent(http.StatusOK)
	}

	//

	if err = downloader.Count(); err != nil {
		h.logger.Errorf("Could not count download of %s: %s", file.ID, err)
	}

	return c.Stream(http.StatusOK, downloader.ContentType(), r)
}

// load finds the file id. Inactive files are reported as not found unless inactive is true.
func (h *file) load(id string, inactive bool) (*model.File, error) {
	file, err := h.db.FindFile(id)
	if err != nil {
		if h.db.IsNotFound(err) {
			return nil, weberror.New(http.StatusNotFound, "File not found")
		}
		return nil, weberror.New(http.StatusInternalServerError, err.Error())
	}

	if !file.Active && !inactive {
		return nil, weberror.New(http.StatusNotFound, "File not found")
	}
	return file, nil
}

func uploaded(upload *service.Upload) echo.Map {
	return echo.Map{
		"success":      true,
		"file_id":      upload.File.ID,
		"filename":     upload.File.Filename,
		"file_size":    upload.File.Size,
		"file_type":    upload.File.ContentType,
		"download_url": xpath.Download(upload.File.ID),
		"md5_hash":     serializer.Digest(upload.File.MD5),
		"sha256_hash":  serializer.Digest(upload.File.SHA256),
		"verified":     upload.File.HasDigests(),
		"message":      upload.Message,
	}
}

func lastModified(file *model.File) string {
	t := time.Now()
	switch {
	case file.UpdatedAt != nil:
		t = *file.UpdatedAt
	case file.CreatedAt != nil:
		t = *file.CreatedAt
	}
	return t.UTC().Format(http.TimeFormat)
}

func integrityStatus(s integrity.Status) echo.Map {
	return echo.Map{
		"status":   s,
		"verified": s == integrity.StatusVerified,
	}
}
