package serializer

import (
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/xpath"
)

// Files returns the serialized form of the given models.
func Files(files []*model.File) []map[string]interface{} {
	sl := make([]map[string]interface{}, 0, len(files))

	for _, file := range files {
		sl = append(sl, File(file))
	}

	return sl
}

// File returns the serialized form of the given model.
func File(file *model.File) map[string]interface{} {
	return map[string]interface{}{
		"id":             file.ID,
		"filename":       file.Filename,
		"file_size":      file.Size,
		"file_type":      file.ContentType,
		"download_url":   xpath.Download(file.ID),
		"upload_date":    file.CreatedAt,
		"download_count": file.DownloadCount,
		"is_active":      file.Active,
		"md5_hash":       Digest(file.MD5),
		"sha256_hash":    Digest(file.SHA256),
	}
}

// Digest returns nil for an absent digest so it is rendered as null.
func Digest(digest string) interface{} {
	if digest == "" {
		return nil
	}
	return digest
}
