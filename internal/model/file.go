package model

import (
	"path/filepath"
	"strings"
)

// A File represents an uploaded blob stored by the content store.
type File struct {
	Base `json:",inline" storm:"inline"`

	// Filename is the name given by the uploader. It is never used to build Path.
	Filename      string `json:"filename"`
	Path          string `json:"path"           storm:"unique"`
	Size          int64  `json:"size"`
	ContentType   string `json:"content_type"`
	DownloadCount int64  `json:"download_count"`
	Active        bool   `json:"active"         storm:"index"`
	MD5           string `json:"md5"`
	SHA256        string `json:"sha256"`
}

// Extension returns the lowercased extension of the uploaded filename.
func (f *File) Extension() string {
	return strings.ToLower(filepath.Ext(f.Filename))
}

// HasDigests returns true when both digests have been computed.
func (f *File) HasDigests() bool {
	return f.MD5 != "" && f.SHA256 != ""
}
