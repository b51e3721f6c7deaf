package database

import (
	"github.com/mdouchement/fileshare/internal/model"
)

type (
	// A Client can interacts with the database.
	Client interface {
		// Save inserts or updates the entry in database with the given model.
		Save(m model.Model) error
		// Delete deletes the entry in database with the given model.
		Delete(m model.Model) error
		// Close the database.
		Close() error
		// IsNotFound returns true if err is a not found error.
		IsNotFound(err error) bool
		// IsConflict returns true if err is a unique constraint violation.
		IsConflict(err error) bool

		FileInteraction
		ShortLinkInteraction
	}

	// A FileInteraction defines all the methods used to interact with a file record.
	FileInteraction interface {
		AllFiles() ([]*model.File, error)
		ActiveFiles() ([]*model.File, error)
		FindFile(id string) (*model.File, error)
		IncrementDownloadCount(id string) (int64, error)
		DeleteFile(id string) error
	}

	// A ShortLinkInteraction defines all the methods used to interact with a short link record.
	ShortLinkInteraction interface {
		AllShortLinks() ([]*model.ShortLink, error)
		FindShortLinkByCode(code string) (*model.ShortLink, error)
		DeleteShortLink(id string) error
		FindTombstone(code string) (*model.Tombstone, error)
		DeleteTombstone(id string) error
	}
)
