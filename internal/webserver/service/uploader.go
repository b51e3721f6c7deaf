package service

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/integrity"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// Messages returned along with an upload.
const (
	MessageUploaded   = "File uploaded successfully"
	MessageUnverified = "File uploaded but checksums could not be computed"
)

// An Upload is the outcome of a successful upload.
type Upload struct {
	File    *model.File
	Message string
}

// A FileUploader performs a single request upload.
type FileUploader struct {
	logger    logger.Logger
	database  database.Client
	storage   storage.Store
	validator *Validator
}

// NewFileUploader returns a new FileUploader.
func NewFileUploader(l logger.Logger, database database.Client, storage storage.Store, validator *Validator) *FileUploader {
	return &FileUploader{
		logger:    l.WithPrefix("[upload]"),
		database:  database,
		storage:   storage,
		validator: validator,
	}
}

// Upload stores r as filename and records it. declared is the announced size, negative when unknown.
func (s *FileUploader) Upload(filename, contentType string, declared int64, r io.Reader) (*Upload, error) {
	filename, err := s.validator.Filename(filename)
	if err != nil {
		return nil, err
	}
	if err = s.validator.Size(declared); err != nil {
		return nil, err
	}

	file := &model.File{
		Filename:    filename,
		ContentType: ContentType(contentType, filename),
		Active:      true,
	}

	file.Path, file.Size, err = s.storage.Put(s.validator.Cap(r), file.Extension())
	if err != nil {
		return nil, err
	}

	return record(s.logger, s.database, s.storage, file)
}

// record computes the digests of the stored file and persists it.
// The stored bytes are removed when the record cannot be saved.
func record(l logger.Logger, db database.Client, store storage.Store, file *model.File) (*Upload, error) {
	upload := &Upload{
		File:    file,
		Message: MessageUploaded,
	}

	digests, err := fingerprint(store, file.Path)
	if err != nil {
		l.Warnf("Could not compute checksums of %s: %s", file.Path, err)
		upload.Message = MessageUnverified
	}
	file.MD5 = digests.MD5
	file.SHA256 = digests.SHA256

	if err = db.Save(file); err != nil {
		if err2 := store.Delete(file.Path); err2 != nil {
			l.Errorf("Could not remove %s after failed save: %s", file.Path, err2)
		}
		return nil, errors.Wrap(err, "could not record file")
	}

	l.Infof("Stored %s (%s) as %s [%s]", file.Filename, humanize.IBytes(uint64(file.Size)), file.ID, file.Path)
	return upload, nil
}

// fingerprint reads back the stored file and computes its digests.
func fingerprint(store storage.Store, path string) (integrity.Digests, error) {
	r, err := store.Get(path)
	if err != nil {
		return integrity.Digests{}, err
	}
	defer r.Close()

	return integrity.Compute(r)
}

func digestsOf(file *model.File) integrity.Digests {
	return integrity.Digests{
		MD5:    file.MD5,
		SHA256: file.SHA256,
	}
}
