package service

import (
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// A LinkCascader removes the short links leading to a file.
type LinkCascader interface {
	DeleteDependents(id string) (int, error)
}

// A FileDestroyer removes a file from storage along with its record and the short links leading to it.
type FileDestroyer struct {
	logger   logger.Logger
	database database.Client
	storage  storage.Store
	links    LinkCascader
	file     *model.File
}

// NewFileDestroyer returns a new FileDestroyer.
func NewFileDestroyer(l logger.Logger, database database.Client, storage storage.Store, links LinkCascader, file *model.File) *FileDestroyer {
	return &FileDestroyer{
		logger:   l.WithPrefix("[destroy]"),
		database: database,
		storage:  storage,
		links:    links,
		file:     file,
	}
}

// Destroy performs the removal and returns the number of deleted short links.
// A storage failure leaves an orphan blob but never prevents the record removal.
func (s *FileDestroyer) Destroy() (int, error) {
	if err := s.storage.Delete(s.file.Path); err != nil {
		s.logger.Warnf("Could not remove %s from storage: %s", s.file.Path, err)
	}

	n, err := s.links.DeleteDependents(s.file.ID)
	if err != nil {
		return n, errors.Wrap(err, "FileDestroyer short links")
	}

	err = s.database.DeleteFile(s.file.ID)
	if err != nil && !s.database.IsNotFound(err) {
		return n, errors.Wrap(err, "FileDestroyer file")
	}

	s.logger.Infof("Deleted %s (%s)", s.file.ID, s.file.Filename)
	return n, nil
}
