package storage

import "io"

// Store is the interface that wraps the content store operations.
// Paths are opaque keys generated by the store, relative to its workspace.
type Store interface {
	// Name returns the name of the backend implementation.
	Name() string

	// Put streams r into a new opaque path ending with ext and returns it with the written size.
	Put(r io.Reader, ext string) (path string, n int64, err error)
	// Adopt moves an already written file into the store.
	Adopt(src, ext string) (path string, n int64, err error)
	// Get returns a ReadCloser of the file.
	Get(path string) (io.ReadCloser, error)
	// Stat returns the size of the file.
	Stat(path string) (int64, error)
	// Delete removes the file. A missing file is not an error.
	Delete(path string) error
	// Replace deletes the file at path then puts r under a new opaque path.
	Replace(path string, r io.Reader, ext string) (newpath string, n int64, err error)

	// Cleanup cleans useless artifacts in storage.
	Cleanup() error
}
