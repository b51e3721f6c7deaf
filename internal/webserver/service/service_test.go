package service

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/config"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/mdouchement/fileshare/internal/integrity"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/shortlink"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	logger    logger.Logger
	workspace string
	cfg       *config.Config
	db        database.Client
	store     storage.Store
	assembler *chunk.Assembler
	validator *Validator
}

func setup(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoragePath = filepath.Join(dir, "storage")
	cfg.ScratchPath = filepath.Join(dir, "scratch")
	cfg.MaxUploadSize = 64 << 20

	db, err := database.StormOpen(filepath.Join(dir, "fileshare.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, _ := test.NewNullLogger()
	return &env{
		logger:    logger.WrapLogrus(log),
		workspace: cfg.StoragePath,
		cfg:       &cfg,
		db:        db,
		store:     storage.NewFileSystem(cfg.StoragePath),
		assembler: chunk.New(cfg.ScratchPath, cfg.MaxUploadSize, cfg.MaxChunks),
		validator: NewValidator(&cfg),
	}
}

func (e *env) uploader() *FileUploader {
	return NewFileUploader(e.logger, e.db, e.store, e.validator)
}

func (e *env) chunked() *ChunkedUploader {
	return NewChunkedUploader(e.logger, e.db, e.store, e.assembler, e.validator)
}

func random(size int, seed int64) []byte {
	p := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(p)
	return p
}

func digests(p []byte) integrity.Digests {
	m := md5.Sum(p)
	s := sha256.Sum256(p)
	return integrity.Digests{MD5: hex.EncodeToString(m[:]), SHA256: hex.EncodeToString(s[:])}
}

func TestUpload(t *testing.T) {
	e := setup(t)
	payload := []byte("hello world")

	upload, err := e.uploader().Upload("../../etc/report.pdf", "", int64(len(payload)), bytes.NewReader(payload))
	require.NoError(t, err)

	file := upload.File
	assert.Equal(t, MessageUploaded, upload.Message)
	assert.Equal(t, "report.pdf", file.Filename)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, int64(len(payload)), file.Size)
	assert.True(t, file.Active)
	assert.True(t, strings.HasPrefix(file.Path, "uploads/"))
	assert.True(t, strings.HasSuffix(file.Path, ".pdf"))
	assert.NotContains(t, file.Path, "report")
	assert.Equal(t, digests(payload), digestsOf(file))

	stored, err := e.db.FindFile(file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.SHA256, stored.SHA256)
}

func TestUploadEmptyFile(t *testing.T) {
	e := setup(t)

	upload, err := e.uploader().Upload("empty.txt", "text/plain", 0, bytes.NewReader(nil))
	require.NoError(t, err)

	assert.Equal(t, int64(0), upload.File.Size)
	assert.Equal(t, integrity.EmptyMD5, upload.File.MD5)
	assert.Equal(t, integrity.EmptySHA256, upload.File.SHA256)
}

func TestUploadRejections(t *testing.T) {
	e := setup(t)
	u := e.uploader()

	_, err := u.Upload("virus.EXE", "", 4, strings.NewReader("MZ.."))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload(strings.Repeat("a", 256)+".txt", "", 1, strings.NewReader("a"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload("", "", 1, strings.NewReader("a"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload("big.bin", "", e.cfg.MaxUploadSize+1, strings.NewReader("a"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	// Declared size lies; observed bytes are capped.
	_, err = u.Upload("big.bin", "", -1, bytes.NewReader(make([]byte, e.cfg.MaxUploadSize+1)))
	assert.True(t, failure.Is(err, failure.KindValidation))

	files, err := e.db.AllFiles()
	require.NoError(t, err)
	assert.Empty(t, files)

	entries, _ := os.ReadDir(filepath.Join(e.workspace, "uploads"))
	assert.Empty(t, entries)
}

func TestUploadUnverified(t *testing.T) {
	e := setup(t)
	e.store = &blindStore{Store: e.store}

	upload, err := e.uploader().Upload("a.txt", "", 3, strings.NewReader("abc"))
	require.NoError(t, err)

	assert.Equal(t, MessageUnverified, upload.Message)
	assert.False(t, upload.File.HasDigests())
	assert.Equal(t, int64(3), upload.File.Size)
}

func TestChunkedUploadOutOfOrder(t *testing.T) {
	e := setup(t)
	u := e.chunked()

	chunks := [][]byte{
		random(5<<20, 1),
		random(5<<20, 2),
		random(2<<20, 3),
	}
	whole := bytes.Join(chunks, nil)

	send := func(index int) *ChunkResult {
		result, err := u.Upload(Chunk{
			SessionID:   "session_1",
			Index:       index,
			TotalChunks: 3,
			Filename:    "movie.mkv",
			FileSize:    int64(len(whole)),
			FileType:    "video/x-matroska",
		}, bytes.NewReader(chunks[index]))
		require.NoError(t, err)
		return result
	}

	result := send(2)
	require.NotNil(t, result.Progress)
	assert.Equal(t, []int{0, 1}, result.Progress.Missing)
	assert.Equal(t, 2, result.Progress.MissingN)
	assert.Equal(t, 33.33, result.Progress.Percent)

	result = send(0)
	require.NotNil(t, result.Progress)
	assert.Equal(t, 2, result.Progress.Received)
	assert.Equal(t, 66.67, result.Progress.Percent)

	progress, err := u.Progress("session_1")
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Received)
	assert.Equal(t, 3, progress.TotalChunks)

	result = send(1)
	require.NotNil(t, result.Upload)
	file := result.Upload.File
	assert.Equal(t, MessageAssembled, result.Upload.Message)
	assert.Equal(t, int64(12<<20), file.Size)
	assert.Equal(t, digests(whole), digestsOf(file))

	r, err := e.store.Get(file.Path)
	require.NoError(t, err)
	defer r.Close()
	stored, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(whole, stored))

	_, err = u.Progress("session_1")
	assert.True(t, failure.Is(err, failure.KindNotFound))
}

func TestChunkedUploadRejections(t *testing.T) {
	e := setup(t)
	u := e.chunked()

	_, err := u.Upload(Chunk{SessionID: "s", Index: 0, TotalChunks: 1, Filename: "run.bat"}, strings.NewReader("x"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload(Chunk{SessionID: "s", Index: 0, TotalChunks: 1, Filename: "a.bin", FileSize: e.cfg.MaxUploadSize + 1}, strings.NewReader("x"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload(Chunk{SessionID: "../s", Index: 0, TotalChunks: 1, Filename: "a.bin"}, strings.NewReader("x"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload(Chunk{SessionID: "s", Index: 3, TotalChunks: 2, Filename: "a.bin"}, strings.NewReader("x"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Upload(Chunk{SessionID: "huge", Index: 19999999, TotalChunks: 20000000, Filename: "a.bin"}, strings.NewReader("x"))
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = u.Progress("unknown")
	assert.True(t, failure.Is(err, failure.KindNotFound))
}

func TestChunkedUploadMissingIsBounded(t *testing.T) {
	e := setup(t)
	u := e.chunked()

	total := e.cfg.MaxChunks
	result, err := u.Upload(Chunk{SessionID: "wide", Index: total - 1, TotalChunks: total, Filename: "a.bin", FileSize: -1}, strings.NewReader("x"))
	require.NoError(t, err)
	require.NotNil(t, result.Progress)
	assert.Equal(t, total-1, result.Progress.MissingN)
	assert.Len(t, result.Progress.Missing, chunk.MaxListedMissing)
	assert.True(t, len(result.Progress.Message) < 1024)
}

func TestDownload(t *testing.T) {
	e := setup(t)
	upload, err := e.uploader().Upload("a.txt", "", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	file := upload.File

	d := NewFileDownloader(e.db, e.store, file, true)
	r, err := d.Stream()
	require.NoError(t, err)
	payload, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "hello", string(payload))
	assert.Equal(t, integrity.StatusVerified, d.Status())
	assert.NoError(t, d.Warning())

	require.NoError(t, d.Count())
	require.NoError(t, d.Count())
	assert.Equal(t, int64(2), file.DownloadCount)

	stored, err := e.db.FindFile(file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.DownloadCount)
}

func TestDownloadCorrupted(t *testing.T) {
	e := setup(t)
	upload, err := e.uploader().Upload("a.txt", "", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	file := upload.File

	require.NoError(t, os.WriteFile(filepath.Join(e.workspace, file.Path), []byte("hellO"), 0644))

	d := NewFileDownloader(e.db, e.store, file, true)
	r, err := d.Stream()
	require.NoError(t, err)
	defer r.Close()
	payload, _ := io.ReadAll(r)

	assert.Equal(t, "hellO", string(payload)) // Still streamed.
	assert.True(t, d.Corrupted())
	assert.True(t, failure.Is(d.Warning(), failure.KindCorruption))

	report := NewVerifier(e.logger, e.store).VerifyAll([]*model.File{file})
	assert.Equal(t, 1, report[integrity.StatusCorrupted])
}

func TestDownloadMissingContent(t *testing.T) {
	e := setup(t)
	upload, err := e.uploader().Upload("a.txt", "", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(e.workspace, upload.File.Path)))

	d := NewFileDownloader(e.db, e.store, upload.File, true)
	_, err = d.Stream()
	assert.True(t, failure.Is(err, failure.KindNotFound))
	assert.Equal(t, integrity.StatusMissing, d.Status())
}

func TestDestroy(t *testing.T) {
	e := setup(t)
	resolver := shortlink.NewResolver(e.logger, e.db, shortlink.ProberFunc(nil))

	upload, err := e.uploader().Upload("a.txt", "", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	file := upload.File

	_, err = resolver.Create("demo", shortlink.DownloadPath(file.ID))
	require.NoError(t, err)
	_, err = resolver.Create("keep", "https://example.com")
	require.NoError(t, err)

	n, err := NewFileDestroyer(e.logger, e.db, e.store, resolver, file).Destroy()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.db.FindFile(file.ID)
	assert.True(t, e.db.IsNotFound(err))
	_, err = e.store.Stat(file.Path)
	assert.True(t, failure.Is(err, failure.KindNotFound))

	links, err := resolver.List()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "keep", links[0].Code)
}

func TestRehash(t *testing.T) {
	e := setup(t)
	e.store = &blindStore{Store: e.store}
	upload, err := e.uploader().Upload("a.txt", "", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	file := upload.File
	require.False(t, file.HasDigests())

	e.store = e.store.(*blindStore).Store
	assert.Equal(t, integrity.StatusNoHash, NewVerifier(e.logger, e.store).Verify(file))

	n := NewRehasher(e.logger, e.db, e.store).RehashAll([]*model.File{file})
	assert.Equal(t, 1, n)

	stored, err := e.db.FindFile(file.ID)
	require.NoError(t, err)
	assert.Equal(t, digests([]byte("hello")), digestsOf(stored))
}

func TestReplace(t *testing.T) {
	e := setup(t)
	upload, err := e.uploader().Upload("a.txt", "", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	file := upload.File
	id, previous := file.ID, file.Path

	replaced, err := NewReplacer(e.logger, e.db, e.store, e.validator, file).Replace("b.csv", "", 7, strings.NewReader("a,b,c\n\n"))
	require.NoError(t, err)

	assert.Equal(t, id, replaced.File.ID)
	assert.NotEqual(t, previous, replaced.File.Path)
	assert.Equal(t, "b.csv", replaced.File.Filename)
	assert.Equal(t, int64(7), replaced.File.Size)
	assert.Equal(t, digests([]byte("a,b,c\n\n")), digestsOf(replaced.File))

	_, err = e.store.Stat(previous)
	assert.True(t, failure.Is(err, failure.KindNotFound))

	_, err = NewReplacer(e.logger, e.db, e.store, e.validator, file).Replace("c.vbs", "", 1, strings.NewReader("x"))
	assert.True(t, failure.Is(err, failure.KindValidation))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a.txt", SanitizeFilename("a.txt"))
	assert.Equal(t, "a.txt", SanitizeFilename("/tmp/a.txt"))
	assert.Equal(t, "a.txt", SanitizeFilename(`C:\Users\me\a.txt`))
	assert.Equal(t, "ab.txt", SanitizeFilename("a\x00b.txt"))
	assert.Equal(t, "", SanitizeFilename(".."))
	assert.Equal(t, "", SanitizeFilename("dir/"))
}

func TestCappedReader(t *testing.T) {
	cfg := config.Default()
	cfg.MaxUploadSize = 10
	v := NewValidator(&cfg)

	n, err := io.Copy(io.Discard, v.Cap(bytes.NewReader(make([]byte, 10))))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	_, err = io.Copy(io.Discard, v.Cap(bytes.NewReader(make([]byte, 11))))
	assert.True(t, failure.Is(err, failure.KindValidation))
}

// blindStore cannot read back what it stores.
type blindStore struct {
	storage.Store
}

func (*blindStore) Get(string) (io.ReadCloser, error) {
	return nil, failure.IO(errors.New("device not ready"), "could not read")
}
