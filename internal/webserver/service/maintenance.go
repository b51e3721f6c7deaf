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

// A Verifier checks stored files against their recorded digests.
type Verifier struct {
	logger  logger.Logger
	storage storage.Store
}

// NewVerifier returns a new Verifier.
func NewVerifier(l logger.Logger, storage storage.Store) *Verifier {
	return &Verifier{
		logger:  l.WithPrefix("[verify]"),
		storage: storage,
	}
}

// Verify returns the integrity status of file.
func (s *Verifier) Verify(file *model.File) integrity.Status {
	status := integrity.Check(digestsOf(file), func() (io.ReadCloser, error) {
		return s.storage.Get(file.Path)
	})

	if status == integrity.StatusCorrupted || status == integrity.StatusMissing {
		s.logger.Warnf("%s (%s): %s", file.ID, file.Filename, status)
	}
	return status
}

// VerifyAll verifies every file and counts the statuses.
func (s *Verifier) VerifyAll(files []*model.File) integrity.Report {
	report := integrity.Report{}
	for _, file := range files {
		report.Add(s.Verify(file))
	}
	return report
}

//
//-----
//

// A Rehasher recomputes and stores the digests of files.
type Rehasher struct {
	logger   logger.Logger
	database database.Client
	storage  storage.Store
}

// NewRehasher returns a new Rehasher.
func NewRehasher(l logger.Logger, database database.Client, storage storage.Store) *Rehasher {
	return &Rehasher{
		logger:   l.WithPrefix("[rehash]"),
		database: database,
		storage:  storage,
	}
}

// Rehash recomputes the digests of file from its stored content and saves them.
func (s *Rehasher) Rehash(file *model.File) error {
	digests, err := fingerprint(s.storage, file.Path)
	if err != nil {
		return err
	}

	file.MD5 = digests.MD5
	file.SHA256 = digests.SHA256
	if err = s.database.Save(file); err != nil {
		return errors.Wrap(err, "Rehasher")
	}

	s.logger.Infof("Rehashed %s (%s)", file.ID, file.Filename)
	return nil
}

// RehashAll rehashes every file and returns the number of successes.
// Failures are logged and do not stop the batch.
func (s *Rehasher) RehashAll(files []*model.File) int {
	var n int
	for _, file := range files {
		if err := s.Rehash(file); err != nil {
			s.logger.Errorf("Could not rehash %s: %s", file.ID, err)
			continue
		}
		n++
	}
	return n
}

//
//-----
//

// A Replacer swaps the content of a file, keeping its identifier and short links.
type Replacer struct {
	logger    logger.Logger
	database  database.Client
	storage   storage.Store
	validator *Validator
	file      *model.File
}

// NewReplacer returns a new Replacer.
func NewReplacer(l logger.Logger, database database.Client, storage storage.Store, validator *Validator, file *model.File) *Replacer {
	return &Replacer{
		logger:    l.WithPrefix("[replace]"),
		database:  database,
		storage:   storage,
		validator: validator,
		file:      file,
	}
}

// Replace stores r as the new content of the file and recomputes its digests.
func (s *Replacer) Replace(filename, contentType string, declared int64, r io.Reader) (*Upload, error) {
	filename, err := s.validator.Filename(filename)
	if err != nil {
		return nil, err
	}
	if err = s.validator.Size(declared); err != nil {
		return nil, err
	}

	previous := s.file.Path
	ext := (&model.File{Filename: filename}).Extension()

	path, n, err := s.storage.Replace(previous, s.validator.Cap(r), ext)
	if path == "" {
		return nil, err
	}
	if err != nil {
		s.logger.Warnf("Previous content %s left as orphan: %s", previous, err)
	}

	s.file.Path = path
	s.file.Size = n
	s.file.Filename = filename
	s.file.ContentType = ContentType(contentType, filename)

	upload, err := record(s.logger, s.database, s.storage, s.file)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Replaced content of %s (%s)", s.file.ID, humanize.IBytes(uint64(n)))
	if !s.file.HasDigests() {
		upload.Message = MessageUnverified
	} else {
		upload.Message = "File replaced successfully"
	}
	return upload, nil
}
