package integrity

import "io"

// A Status is the outcome of an integrity check.
type Status string

// Statuses.
const (
	StatusVerified  Status = "verified"
	StatusCorrupted Status = "corrupted"
	StatusNoHash    Status = "no_hash"
	StatusMissing   Status = "missing"
)

// Check returns the integrity status of r against stored.
// open is only called when there is something to compare, so a missing file with no digests reports no_hash.
func Check(stored Digests, open func() (io.ReadCloser, error)) Status {
	if !stored.Complete() {
		return StatusNoHash
	}

	r, err := open()
	if err != nil {
		return StatusMissing
	}
	defer r.Close()

	ok, err := Verify(stored, r)
	switch {
	case err != nil:
		return StatusMissing
	case ok:
		return StatusVerified
	default:
		return StatusCorrupted
	}
}

// A Report counts statuses of a batch verification.
type Report map[Status]int

// Add records s.
func (r Report) Add(s Status) {
	r[s]++
}

// Total returns the number of checked files.
func (r Report) Total() (n int) {
	for _, c := range r {
		n += c
	}
	return n
}
