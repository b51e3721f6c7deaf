package xpath

import (
	"net/url"
	"regexp"
	"strings"
)

// DownloadPrefix is the path prefix of the download route.
const DownloadPrefix = "/download/"

var downloadRE = regexp.MustCompile(`^/download/([\w-]+)(?:/|$)`)

// Download returns the canonical download path of the file id.
func Download(id string) string {
	return DownloadPrefix + id + "/"
}

// DownloadID takes the path or URL p and extracts the file id of a download path.
func DownloadID(p string) (id string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(p))
	if err != nil {
		return "", false
	}

	path := u.Path
	if cp, err := url.PathUnescape(path); err == nil {
		path = cp
	}

	m := downloadRE.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// LocalDownloadID is DownloadID limited to server-relative paths and URLs on the host of base.
func LocalDownloadID(p, base string) (id string, ok bool) {
	if !IsRelative(p) {
		u, err := url.Parse(strings.TrimSpace(p))
		if err != nil {
			return "", false
		}
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil || b.Host == "" || !strings.EqualFold(u.Host, b.Host) {
			return "", false
		}
	}
	return DownloadID(p)
}

// IsRelative returns true when p is a server-relative path like "/share/x".
func IsRelative(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//")
}

// Absolute resolves p against base when p is relative.
func Absolute(base, p string) (string, error) {
	if !IsRelative(p) {
		return p, nil
	}

	b, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
	if err != nil {
		return "", err
	}
	r, err := url.Parse(p)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
