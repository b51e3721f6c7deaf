package webserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/fileshare/internal/integrity"
	"github.com/mdouchement/fileshare/internal/webserver/serializer"
	"github.com/mdouchement/fileshare/internal/webserver/service"
	"github.com/mdouchement/fileshare/internal/webserver/weberror"
)

// admin gathers the maintenance actions. It shares the file handler's dependencies.
type admin struct {
	*file
}

func (h *admin) Verify(c echo.Context) error {
	c.Set("handler_method", "admin.Verify")

	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	status := service.NewVerifier(h.logger, h.storage).Verify(file)

	payload := integrityStatus(status)
	payload["success"] = true
	payload["file_id"] = file.ID
	return c.JSON(http.StatusOK, payload)
}

func (h *admin) VerifyAll(c echo.Context) error {
	c.Set("handler_method", "admin.VerifyAll")

	files, err := h.db.AllFiles()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	report := service.NewVerifier(h.logger, h.storage).VerifyAll(files)

	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"total":     report.Total(),
		"verified":  report[integrity.StatusVerified],
		"corrupted": report[integrity.StatusCorrupted],
		"no_hash":   report[integrity.StatusNoHash],
		"missing":   report[integrity.StatusMissing],
	})
}

func (h *admin) Rehash(c echo.Context) error {
	c.Set("handler_method", "admin.Rehash")

	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	if err = service.NewRehasher(h.logger, h.db, h.storage).Rehash(file); err != nil {
		return weberror.From(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"file_id":     file.ID,
		"md5_hash":    serializer.Digest(file.MD5),
		"sha256_hash": serializer.Digest(file.SHA256),
		"message":     "Checksums recalculated",
	})
}

func (h *admin) Replace(c echo.Context) error {
	c.Set("handler_method", "admin.Replace")

	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	if err = parseMultipart(c); err != nil {
		return err
	}

	fh, err := c.FormFile("new_file")
	if err != nil {
		return weberror.New(http.StatusBadRequest, "No file provided")
	}
	r, err := fh.Open()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}
	defer r.Close()

	//

	replacer := service.NewReplacer(h.logger, h.db, h.storage, h.validator, file)
	upload, err := replacer.Replace(fh.Filename, fh.Header.Get(echo.HeaderContentType), fh.Size, r)
	if err != nil {
		return weberror.From(err)
	}

	return c.JSON(http.StatusOK, uploaded(upload))
}

func (h *admin) Activate(c echo.Context) error {
	c.Set("handler_method", "admin.Activate")
	return h.toggle(c, true)
}

func (h *admin) Deactivate(c echo.Context) error {
	c.Set("handler_method", "admin.Deactivate")
	return h.toggle(c, false)
}

func (h *admin) ResetDownloads(c echo.Context) error {
	c.Set("handler_method", "admin.ResetDownloads")

	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	file.DownloadCount = 0
	if err = h.db.Save(file); err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, serializer.File(file))
}

func (h *admin) Download(c echo.Context) error {
	c.Set("handler_method", "admin.Download")

	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	return h.stream(c, file, true)
}

func (h *admin) toggle(c echo.Context, active bool) error {
	file, err := h.load(c.Param("id"), true)
	if err != nil {
		return err
	}

	file.Active = active
	if err = h.db.Save(file); err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	h.logger.Infof("File %s active=%t", file.ID, active)
	return c.JSON(http.StatusOK, serializer.File(file))
}
