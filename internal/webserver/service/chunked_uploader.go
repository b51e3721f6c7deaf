package service

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/logger"
)

// Messages returned when the last chunk completed an upload.
const (
	MessageAssembled           = "File uploaded and assembled successfully"
	MessageAssembledUnverified = "File assembled but checksums could not be computed"
	MessageChunk               = "Chunk uploaded successfully"
	MessageMissingFormat       = "Chunk uploaded, waiting for %d chunk(s) %v"
)

type (
	// A Chunk is one part of a chunked upload.
	Chunk struct {
		SessionID   string
		Index       int
		TotalChunks int
		Filename    string
		FileSize    int64
		FileType    string
	}

	// A ChunkProgress reports how much of a session has been received.
	ChunkProgress struct {
		Index       int
		Received    int
		TotalChunks int
		Percent     float64
		MissingN    int
		Missing     []int // at most chunk.MaxListedMissing
		Message     string
	}

	// A ChunkResult is either a progress report or a completed upload.
	ChunkResult struct {
		Progress *ChunkProgress
		Upload   *Upload
	}
)

// A ChunkedUploader receives the chunks of an upload session and assembles them once all arrived.
type ChunkedUploader struct {
	logger    logger.Logger
	database  database.Client
	storage   storage.Store
	assembler *chunk.Assembler
	validator *Validator
}

// NewChunkedUploader returns a new ChunkedUploader.
func NewChunkedUploader(l logger.Logger, database database.Client, storage storage.Store, assembler *chunk.Assembler, validator *Validator) *ChunkedUploader {
	return &ChunkedUploader{
		logger:    l.WithPrefix("[chunk]"),
		database:  database,
		storage:   storage,
		assembler: assembler,
		validator: validator,
	}
}

// Upload stores the chunk read from r. When every chunk of the session is present the file is assembled,
// stored and recorded. Assembly is triggered by full coverage, never by the last index alone:
// receiving the last index while earlier ones are missing reports them in the progress.
func (s *ChunkedUploader) Upload(c Chunk, r io.Reader) (*ChunkResult, error) {
	filename, err := s.validator.Filename(c.Filename)
	if err != nil {
		return nil, err
	}
	if err = s.validator.Size(c.FileSize); err != nil {
		return nil, err
	}

	err = s.assembler.Track(c.SessionID, chunk.Metadata{
		TotalChunks: c.TotalChunks,
		Filename:    filename,
		FileSize:    c.FileSize,
		FileType:    c.FileType,
	})
	if err != nil {
		return nil, err
	}

	if err = s.assembler.WriteChunk(c.SessionID, c.Index, c.TotalChunks, r); err != nil {
		return nil, err
	}
	s.logger.Debugf("Session %s: received chunk %d/%d", c.SessionID, c.Index+1, c.TotalChunks)

	if s.assembler.IsComplete(c.SessionID, c.TotalChunks) {
		upload, err := s.complete(c, filename)
		if err == nil {
			return &ChunkResult{Upload: upload}, nil
		}
		if !failure.Is(err, failure.KindIncomplete) {
			return nil, err
		}
		// Another request assembled the session concurrently.
		s.logger.Debugf("Session %s: already assembled", c.SessionID)
	}

	received, _ := s.assembler.Received(c.SessionID)
	progress := &ChunkProgress{
		Index:       c.Index,
		Received:    len(received),
		TotalChunks: c.TotalChunks,
		Percent:     percent(len(received), c.TotalChunks),
		Message:     MessageChunk,
	}

	if c.Index == c.TotalChunks-1 {
		progress.MissingN, progress.Missing = s.assembler.Missing(c.SessionID, c.TotalChunks)
		if progress.MissingN > 0 {
			progress.Message = fmt.Sprintf(MessageMissingFormat, progress.MissingN, progress.Missing)
		}
	}
	return &ChunkResult{Progress: progress}, nil
}

// Progress reports the received chunks of the session.
func (s *ChunkedUploader) Progress(sessionID string) (*ChunkProgress, error) {
	metadata, err := s.assembler.Metadata(sessionID)
	if err != nil {
		return nil, err
	}

	received, err := s.assembler.Received(sessionID)
	if err != nil {
		return nil, err
	}

	return &ChunkProgress{
		Received:    len(received),
		TotalChunks: metadata.TotalChunks,
		Percent:     percent(len(received), metadata.TotalChunks),
	}, nil
}

func (s *ChunkedUploader) complete(c Chunk, filename string) (*Upload, error) {
	assembled, n, err := s.assembler.Assemble(c.SessionID, c.TotalChunks)
	if err != nil {
		return nil, err
	}

	file := &model.File{
		Filename:    filename,
		ContentType: ContentType(c.FileType, filename),
		Active:      true,
	}

	file.Path, file.Size, err = s.storage.Adopt(assembled, file.Extension())
	if err != nil {
		os.Remove(assembled)
		return nil, err
	}

	if c.FileSize >= 0 && n != c.FileSize {
		s.logger.Warnf("Session %s: declared %d bytes but assembled %d", c.SessionID, c.FileSize, n)
	}

	upload, err := record(s.logger, s.database, s.storage, file)
	if err != nil {
		return nil, err
	}
	upload.Message = MessageAssembled
	if !upload.File.HasDigests() {
		upload.Message = MessageAssembledUnverified
	}
	return upload, nil
}

func percent(received, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(received)/float64(total)*10000) / 100
}
