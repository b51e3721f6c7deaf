package database

import (
	"sort"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/json"
	"github.com/asdine/storm/v3/q"
	"github.com/gofrs/uuid"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/pkg/errors"
)

type strm struct {
	db *storm.DB
}

// StormCodec is the format used to store data in the database.
var StormCodec = storm.Codec(json.Codec)

// StormInit initializes Storm database.
func StormInit(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	if err := db.Init(&model.File{}); err != nil {
		return errors.Wrap(err, "could not init file index")
	}

	if err = db.Init(&model.ShortLink{}); err != nil {
		return errors.Wrap(err, "could not init short link index")
	}

	err = db.Init(&model.Tombstone{})
	return errors.Wrap(err, "could not init tombstone index")
}

// StormReIndex rebuilds all the indexes.
func StormReIndex(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	if err := db.ReIndex(&model.File{}); err != nil {
		return errors.Wrap(err, "could not ReIndex files")
	}

	if err = db.ReIndex(&model.ShortLink{}); err != nil {
		return errors.Wrap(err, "could not ReIndex short links")
	}

	err = db.ReIndex(&model.Tombstone{})
	return errors.Wrap(err, "could not ReIndex tombstones")
}

// StormOpen opens the database and returns a Client.
func StormOpen(database string) (Client, error) {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	return &strm{
		db: db,
	}, nil
}

func (c *strm) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	if m.GetID() == "" {
		m.SetID(uuid.Must(uuid.NewV4()).String())
		m.SetCreatedAt(t)
	}

	return errors.Wrap(c.db.Save(m), "could not save the model")
}

func (c *strm) Delete(m model.Model) error {
	return errors.Wrap(c.db.DeleteStruct(m), "could not delete the model")
}

func (c *strm) Close() error {
	return c.db.Close()
}

func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

func (c *strm) IsConflict(err error) bool {
	return errors.Cause(err) == storm.ErrAlreadyExists
}

//
// File
//

func (c *strm) AllFiles() ([]*model.File, error) {
	files := make([]*model.File, 0)
	err := c.db.All(&files)
	return files, errors.Wrap(err, "could not get all files")
}

func (c *strm) ActiveFiles() ([]*model.File, error) {
	files := make([]*model.File, 0)
	err := c.db.Select(q.Eq("Active", true)).Find(&files)
	if err == storm.ErrNotFound {
		return files, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get active files")
	}

	// Most recent first.
	sort.SliceStable(files, func(i, j int) bool {
		return createdAt(files[i]).After(createdAt(files[j]))
	})
	return files, nil
}

func (c *strm) FindFile(id string) (*model.File, error) {
	var file model.File
	err := c.db.One("ID", id, &file)
	return &file, errors.Wrap(err, "could not find file")
}

// IncrementDownloadCount runs the read-modify-write in a single write transaction
// so concurrent downloads never lose an increment.
func (c *strm) IncrementDownloadCount(id string) (int64, error) {
	tx, err := c.db.Begin(true)
	if err != nil {
		return 0, errors.Wrap(err, "could not begin transaction")
	}
	defer tx.Rollback()

	var file model.File
	if err = tx.One("ID", id, &file); err != nil {
		return 0, errors.Wrap(err, "could not find file")
	}

	file.DownloadCount++
	if err = tx.UpdateField(&file, "DownloadCount", file.DownloadCount); err != nil {
		return 0, errors.Wrap(err, "could not increment download count")
	}

	return file.DownloadCount, errors.Wrap(tx.Commit(), "could not commit download count")
}

func (c *strm) DeleteFile(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.File{})
	return errors.Wrap(err, "could not delete file")
}

func createdAt(f *model.File) time.Time {
	if f.CreatedAt == nil {
		return time.Time{}
	}
	return *f.CreatedAt
}

//
// ShortLink
//

func (c *strm) AllShortLinks() ([]*model.ShortLink, error) {
	links := make([]*model.ShortLink, 0)
	err := c.db.All(&links)
	return links, errors.Wrap(err, "could not get all short links")
}

func (c *strm) FindShortLinkByCode(code string) (*model.ShortLink, error) {
	var link model.ShortLink
	err := c.db.One("Code", code, &link)
	return &link, errors.Wrap(err, "could not find short link")
}

func (c *strm) DeleteShortLink(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.ShortLink{})
	return errors.Wrap(err, "could not delete short link")
}

func (c *strm) FindTombstone(code string) (*model.Tombstone, error) {
	var tombstone model.Tombstone
	err := c.db.One("Code", code, &tombstone)
	return &tombstone, errors.Wrap(err, "could not find tombstone")
}

func (c *strm) DeleteTombstone(id string) error {
	err := c.db.Select(q.Eq("ID", id)).Delete(&model.Tombstone{})
	return errors.Wrap(err, "could not delete tombstone")
}
