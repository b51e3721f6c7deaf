package storage

import (
	"io"
	fspkg "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/pkg/errors"
)

const (
	uploads = "uploads"
	tmpdir  = "tmp"
)

type fs struct {
	workspace string
}

// NewFileSystem returns a new File System backend.
func NewFileSystem(workspace string) Store {
	return &fs{
		workspace: workspace,
	}
}

func (b *fs) Name() string {
	return "file_system"
}

func (b *fs) Put(r io.Reader, ext string) (string, int64, error) {
	tmp, err := b.tempfile()
	if err != nil {
		return "", 0, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		if failure.KindOf(err) != failure.KindUnknown {
			return "", 0, err
		}
		return "", 0, failure.Storage(err, "could not write file")
	}

	if err = tmp.Sync(); err != nil {
		cleanup()
		return "", 0, failure.Storage(err, "could not sync file")
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, failure.Storage(err, "could not close file")
	}

	p, err := b.move(tmp.Name(), ext)
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}
	return p, n, nil
}

func (b *fs) Adopt(src, ext string) (string, int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", 0, failure.Storage(err, "could not stat adopted file")
	}

	p, err := b.move(src, ext)
	if err == nil {
		return p, info.Size(), nil
	}

	// Cross-device: stream a copy then drop the source.
	f, err := os.Open(src)
	if err != nil {
		return "", 0, failure.Storage(err, "could not open adopted file")
	}
	defer f.Close()

	p, n, err := b.Put(f, ext)
	if err != nil {
		return "", 0, err
	}
	os.Remove(src)
	return p, n, nil
}

func (b *fs) Get(p string) (io.ReadCloser, error) {
	filename, err := b.filename(p)
	if err != nil {
		return nil, err
	}

	rc, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.NotFound("file %s not found", p)
		}
		return nil, failure.Storage(err, "could not open file")
	}
	return rc, nil
}

func (b *fs) Stat(p string) (int64, error) {
	filename, err := b.filename(p)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, failure.NotFound("file %s not found", p)
		}
		return 0, failure.Storage(err, "could not stat file")
	}
	return info.Size(), nil
}

func (b *fs) Delete(p string) error {
	filename, err := b.filename(p)
	if err != nil {
		return err
	}

	err = os.Remove(filename)
	if err != nil && !os.IsNotExist(err) {
		return failure.Storage(err, "could not delete file")
	}
	return nil
}

func (b *fs) Replace(p string, r io.Reader, ext string) (string, int64, error) {
	// A failed delete only leaks the old file; the new content must still land.
	derr := b.Delete(p)

	np, n, err := b.Put(r, ext)
	if err != nil {
		return "", 0, err
	}
	if derr != nil {
		return np, n, errors.Wrapf(derr, "replaced but old file %s remains", p)
	}
	return np, n, nil
}

func (b *fs) Exist(p string) bool {
	_, err := os.Stat(filepath.Join(b.workspace, p))
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return true // ignoring error
}

func (b *fs) Cleanup() error {
	// Find empty directories.
	//
	stats := map[string]int{}
	err := filepath.Walk(b.workspace, func(path string, info fspkg.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path == b.workspace {
				return nil
			}
			stats[path] = 0
			return nil
		}

		if strings.HasSuffix(path, ".DS_Store") {
			return nil
		}

		trimmedpath := strings.Replace(path, b.workspace, "", 1)
		base := b.workspace

		for _, segment := range strings.Split(filepath.Dir(trimmedpath), string(os.PathSeparator)) {
			base = filepath.Join(base, segment)
			if !strings.HasPrefix(base, b.workspace) {
				continue
			}
			stats[base]++
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "cleanup")
	}

	// Remove empty directories, except the store's own layout.
	//
	for dirname, count := range stats {
		if count > 0 {
			continue
		}
		if rel, _ := filepath.Rel(b.workspace, dirname); rel == uploads || rel == tmpdir {
			continue
		}
		os.RemoveAll(dirname)
	}
	return nil
}

// move renames src into a freshly generated opaque path.
func (b *fs) move(src, ext string) (string, error) {
	p := Key(ext)
	if err := b.mkdirAll(uploads); err != nil {
		return "", err
	}

	if err := os.Rename(src, filepath.Join(b.workspace, filepath.FromSlash(p))); err != nil {
		return "", failure.Storage(err, "could not move file into place")
	}
	return p, nil
}

func (b *fs) tempfile() (*os.File, error) {
	if err := b.mkdirAll(tmpdir); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(filepath.Join(b.workspace, tmpdir), "put-*")
	if err != nil {
		return nil, failure.Storage(err, "could not create file")
	}
	return f, nil
}

func (b *fs) mkdirAll(dirname string) error {
	if b.Exist(dirname) {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(b.workspace, dirname), 0755); err != nil {
		return failure.Storage(err, "could not create directory")
	}
	return nil
}

// filename resolves an opaque path, refusing anything escaping the workspace.
func (b *fs) filename(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "/") {
		return "", failure.NotFound("invalid path %q", p)
	}

	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", failure.NotFound("invalid path %q", p)
	}
	return filepath.Join(b.workspace, filepath.FromSlash(clean)), nil
}

// Key generates a collision-resistant opaque path keeping only the extension of the upload.
func Key(ext string) string {
	return path.Join(uploads, uuid.Must(uuid.NewV4()).String()+SafeExtension(ext))
}

// SafeExtension normalizes ext so it can be appended to a generated name.
func SafeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || len(ext) > 16 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}
