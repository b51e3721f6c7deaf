package service

import (
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/mdouchement/fileshare/internal/config"
	"github.com/mdouchement/fileshare/internal/failure"
)

// DefaultContentType is used when neither the client nor the extension tell the content type.
const DefaultContentType = "application/octet-stream"

// A Validator checks uploads against the configured limits.
type Validator struct {
	maxSize     int64
	maxFilename int
	denied      map[string]bool
}

// NewValidator returns a new Validator.
func NewValidator(cfg *config.Config) *Validator {
	v := &Validator{
		maxSize:     cfg.MaxUploadSize,
		maxFilename: cfg.MaxFilenameLength,
		denied:      map[string]bool{},
	}
	for _, ext := range cfg.DeniedExtensions {
		v.denied[strings.ToLower(ext)] = true
	}
	return v
}

// MaxSize returns the size ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Filename sanitizes the client-provided filename and checks it.
func (v *Validator) Filename(name string) (string, error) {
	name = SanitizeFilename(name)
	if name == "" {
		return "", failure.Validation("No file selected")
	}
	if len([]rune(name)) > v.maxFilename {
		return "", failure.Validation("Filename too long (max %d characters)", v.maxFilename)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if v.denied[ext] {
		return "", failure.Validation("File type %s is not allowed for security reasons", ext)
	}
	return name, nil
}

// Size checks a declared size. Negative values mean unknown.
func (v *Validator) Size(declared int64) error {
	if declared > v.maxSize {
		return failure.Validation("File too large (max %s)", humanize.IBytes(uint64(v.maxSize)))
	}
	return nil
}

// Cap returns a reader failing with a validation error once more than the size ceiling has been read.
func (v *Validator) Cap(r io.Reader) io.Reader {
	return &cappedReader{r: r, max: v.maxSize}
}

// SanitizeFilename strips any directory component and control characters from name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// ContentType returns the declared content type or guesses it from the filename.
func ContentType(declared, filename string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return DefaultContentType
}

type cappedReader struct {
	r   io.Reader
	n   int64
	max int64
}

func (r *cappedReader) Read(p []byte) (int, error) {
	if r.n > r.max {
		return 0, r.exceeded()
	}
	if remaining := r.max - r.n + 1; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := r.r.Read(p)
	r.n += int64(n)
	if r.n > r.max {
		return n, r.exceeded()
	}
	return n, err
}

func (r *cappedReader) exceeded() error {
	return failure.Validation("File too large (max %s)", humanize.IBytes(uint64(r.max)))
}
