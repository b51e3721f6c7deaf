package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/mdouchement/fileshare/internal/failure"
)

// BufferSize is the size of the read buffer used while digesting a stream.
const BufferSize = 8 << 10

// Digests of the empty content.
const (
	EmptyMD5    = "d41d8cd98f00b204e9800998ecf8427e"
	EmptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// Digests is the integrity fingerprint of some content. An empty field means "not computed".
type Digests struct {
	MD5    string `json:"md5_hash"`
	SHA256 string `json:"sha256_hash"`
}

// Complete returns true when both digests are present.
func (d Digests) Complete() bool {
	return d.MD5 != "" && d.SHA256 != ""
}

// Equal compares both digests case-insensitively.
func (d Digests) Equal(o Digests) bool {
	return strings.EqualFold(d.MD5, o.MD5) && strings.EqualFold(d.SHA256, o.SHA256)
}

// Compute streams r through MD5 and SHA-256 in a single pass.
// On any read failure no digest is returned.
func Compute(r io.Reader) (Digests, error) {
	hmd5 := md5.New()
	hsha256 := sha256.New()

	buf := make([]byte, BufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			hmd5.Write(buf[:n])
			hsha256.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digests{}, failure.IO(err, "could not read stream")
		}
	}

	return Digests{
		MD5:    hex.EncodeToString(hmd5.Sum(nil)),
		SHA256: hex.EncodeToString(hsha256.Sum(nil)),
	}, nil
}

// Verify recomputes the digests of r and compares them with stored.
// Absent stored digests never verify.
func Verify(stored Digests, r io.Reader) (bool, error) {
	if !stored.Complete() {
		return false, nil
	}

	current, err := Compute(r)
	if err != nil {
		return false, err
	}
	return current.Equal(stored), nil
}
