package service

import (
	"io"

	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/mdouchement/fileshare/internal/integrity"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/pkg/errors"
)

// A FileDownloader streams a stored file, optionally checking its integrity first.
type FileDownloader struct {
	database database.Client
	storage  storage.Store
	file     *model.File
	verify   bool

	status integrity.Status
}

// NewFileDownloader returns a new FileDownloader.
func NewFileDownloader(database database.Client, storage storage.Store, file *model.File, verify bool) *FileDownloader {
	return &FileDownloader{
		database: database,
		storage:  storage,
		file:     file,
		verify:   verify,
	}
}

// Stream returns the file content. A corrupted file is still streamed, Status tells about it.
func (s *FileDownloader) Stream() (io.ReadCloser, error) {
	if s.verify {
		s.status = integrity.Check(digestsOf(s.file), func() (io.ReadCloser, error) {
			return s.storage.Get(s.file.Path)
		})
	}

	return s.storage.Get(s.file.Path)
}

// Status returns the integrity status computed by Stream. It is empty when verification is disabled.
func (s *FileDownloader) Status() integrity.Status {
	return s.status
}

// Corrupted returns true when the stored digests do not match the content.
func (s *FileDownloader) Corrupted() bool {
	return s.status == integrity.StatusCorrupted
}

// Warning returns a Corruption failure when the stored digests do not match the content.
func (s *FileDownloader) Warning() error {
	if !s.Corrupted() {
		return nil
	}
	return failure.Corruption("File integrity check failed, the file may be corrupted")
}

// Count records a download.
func (s *FileDownloader) Count() error {
	n, err := s.database.IncrementDownloadCount(s.file.ID)
	if err != nil {
		return errors.Wrap(err, "FileDownloader")
	}
	s.file.DownloadCount = n
	return nil
}

// ContentType returns the content type of the file.
func (s *FileDownloader) ContentType() string {
	if s.file.ContentType == "" {
		return DefaultContentType
	}
	return s.file.ContentType
}

// Filename returns the name given by the uploader.
func (s *FileDownloader) Filename() string {
	return s.file.Filename
}

// Size returns the size of the file.
func (s *FileDownloader) Size() int64 {
	return s.file.Size
}

// Digests returns the stored digests.
func (s *FileDownloader) Digests() integrity.Digests {
	return digestsOf(s.file)
}
