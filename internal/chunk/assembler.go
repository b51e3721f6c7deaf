package chunk

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/pkg/errors"
)

const (
	chunkPrefix  = "chunk_"
	metadataName = "metadata.json"
	assembledTag = "-assembled-"

	// MaxListedMissing is the maximum number of indices returned by Missing.
	MaxListedMissing = 50
)

var sessionRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Metadata describes an upload session. It is recorded in the session's scratch directory.
type Metadata struct {
	TotalChunks int    `json:"total_chunks"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	FileType    string `json:"file_type"`
}

// An Assembler stores the chunks of upload sessions in scratch space and concatenates them once complete.
//
// A session goes RECEIVING (WriteChunk, any order, any number of retries)
// -> ASSEMBLING (Assemble holds the session exclusively) -> COMPLETE (scratch removed).
type Assembler struct {
	root      string
	maxSize   int64
	maxChunks int

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New returns an Assembler working under root and refusing sessions larger than maxSize bytes
// or split in more than maxChunks chunks.
func New(root string, maxSize int64, maxChunks int) *Assembler {
	return &Assembler{
		root:      root,
		maxSize:   maxSize,
		maxChunks: maxChunks,
		locks:     map[string]*sync.RWMutex{},
	}
}

// ValidateSession checks that id can be used as a scratch directory name.
func ValidateSession(id string) error {
	if !sessionRE.MatchString(id) {
		return failure.Validation("invalid upload session id %q", id)
	}
	return nil
}

// Track records the session metadata. A total chunk count differing from the recorded one is rejected.
func (a *Assembler) Track(id string, m Metadata) error {
	if err := ValidateSession(id); err != nil {
		return err
	}
	if err := a.validateTotal(m.TotalChunks); err != nil {
		return err
	}

	l := a.lock(id)
	l.Lock()
	defer l.Unlock()

	previous, err := a.loadMetadata(id)
	switch {
	case err == nil && previous.TotalChunks != m.TotalChunks:
		return failure.Validation("total_chunks changed from %d to %d", previous.TotalChunks, m.TotalChunks)
	case err == nil:
		return nil
	case !failure.Is(err, failure.KindNotFound):
		return err
	}

	if err = os.MkdirAll(a.dirname(id), 0755); err != nil {
		return failure.Storage(err, "could not create session directory")
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "could not marshal metadata")
	}
	return a.writeAtomic(id, metadataName, strings.NewReader(string(payload)), -1)
}

// Metadata returns the recorded session metadata.
func (a *Assembler) Metadata(id string) (Metadata, error) {
	if err := ValidateSession(id); err != nil {
		return Metadata{}, err
	}
	return a.loadMetadata(id)
}

// WriteChunk stores the chunk index of the session. Writing the same index again replaces it atomically.
func (a *Assembler) WriteChunk(id string, index, total int, r io.Reader) error {
	if err := ValidateSession(id); err != nil {
		return err
	}
	if err := a.validateTotal(total); err != nil {
		return err
	}
	if index < 0 || index >= total {
		return failure.Validation("chunk_number %d out of range [0, %d)", index, total)
	}

	l := a.lock(id)
	l.RLock()
	defer l.RUnlock()

	if err := os.MkdirAll(a.dirname(id), 0755); err != nil {
		return failure.Storage(err, "could not create session directory")
	}

	stored, err := a.storedSize(id, index)
	if err != nil {
		return err
	}
	budget := a.maxSize - stored
	if budget < 0 {
		budget = 0
	}

	return a.writeAtomic(id, chunkname(index), r, budget)
}

// Received returns the sorted chunk indices present in scratch space.
func (a *Assembler) Received(id string) ([]int, error) {
	if err := ValidateSession(id); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(a.dirname(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.NotFound("upload session %s not found", id)
		}
		return nil, failure.Storage(err, "could not read session directory")
	}

	var indices []int
	for _, entry := range entries {
		if index, ok := parseChunkname(entry.Name()); ok && !entry.IsDir() {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// Missing returns the number of indices in [0, total) not yet received
// and the first MaxListedMissing of them.
func (a *Assembler) Missing(id string, total int) (int, []int) {
	if total > a.maxChunks {
		total = a.maxChunks
	}
	received, _ := a.Received(id)

	seen := make(map[int]bool, len(received))
	for _, index := range received {
		if index < total {
			seen[index] = true
		}
	}

	missing := make([]int, 0)
	for i := 0; i < total && len(missing) < MaxListedMissing; i++ {
		if !seen[i] {
			missing = append(missing, i)
		}
	}
	return total - len(seen), missing
}

// IsComplete returns true iff exactly the indices 0..total-1 are present.
func (a *Assembler) IsComplete(id string, total int) bool {
	if total < 1 {
		return false
	}

	received, err := a.Received(id)
	if err != nil || len(received) != total {
		return false
	}
	for i, index := range received {
		if index != i {
			return false
		}
	}
	return true
}

// Assemble concatenates the chunks in index order into a single file and returns its path and size.
// Each chunk is deleted as soon as it is merged and the session directory is removed afterwards.
func (a *Assembler) Assemble(id string, total int) (string, int64, error) {
	if err := ValidateSession(id); err != nil {
		return "", 0, err
	}

	l := a.lock(id)
	l.Lock()
	defer l.Unlock()

	if !a.IsComplete(id, total) {
		n, missing := a.Missing(id, total)
		return "", 0, failure.Incomplete("upload %s is missing %d chunk(s) %v", id, n, missing)
	}

	size, err := a.storedSize(id, -1)
	if err != nil {
		return "", 0, err
	}
	if size > a.maxSize {
		return "", 0, failure.Validation("upload exceeds the maximum size of %d bytes", a.maxSize)
	}

	out, err := os.CreateTemp(a.root, "."+id+assembledTag+"*")
	if err != nil {
		return "", 0, failure.Storage(err, "could not create assembled file")
	}
	abort := func() {
		out.Close()
		os.Remove(out.Name())
	}

	var n int64
	for i := 0; i < total; i++ {
		written, err := a.merge(out, id, i)
		if err != nil {
			abort()
			return "", 0, err
		}
		n += written
	}

	if err = out.Sync(); err != nil {
		abort()
		return "", 0, failure.Storage(err, "could not sync assembled file")
	}
	if err = out.Close(); err != nil {
		os.Remove(out.Name())
		return "", 0, failure.Storage(err, "could not close assembled file")
	}

	if err = os.RemoveAll(a.dirname(id)); err != nil {
		return "", 0, failure.Storage(err, "could not remove session directory")
	}
	a.forget(id)

	return out.Name(), n, nil
}

func (a *Assembler) validateTotal(total int) error {
	if total < 1 {
		return failure.Validation("total_chunks must be at least 1")
	}
	if total > a.maxChunks {
		return failure.Validation("total_chunks must be at most %d", a.maxChunks)
	}
	return nil
}

// Sweep removes scratch entries untouched for longer than olderThan. Sessions being written are skipped.
func (a *Assembler) Sweep(olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not read scratch directory")
	}

	deadline := time.Now().Add(-olderThan)
	var removed []string
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(deadline) {
			continue
		}

		name := entry.Name()
		if entry.IsDir() && sessionRE.MatchString(name) {
			l := a.lock(name)
			if !l.TryLock() {
				continue
			}
			err = os.RemoveAll(filepath.Join(a.root, name))
			l.Unlock()
			a.forget(name)
		} else {
			err = os.RemoveAll(filepath.Join(a.root, name))
		}

		if err != nil {
			return removed, errors.Wrapf(err, "could not remove %s", name)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func (a *Assembler) merge(w io.Writer, id string, index int) (int64, error) {
	filename := filepath.Join(a.dirname(id), chunkname(index))

	f, err := os.Open(filename)
	if err != nil {
		return 0, failure.Storage(err, "could not open chunk")
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, failure.Storage(err, "could not merge chunk")
	}

	f.Close()
	if err = os.Remove(filename); err != nil {
		return n, failure.Storage(err, "could not remove merged chunk")
	}
	return n, nil
}

// writeAtomic writes r to a temporary file then renames it to name.
// A non-negative budget bounds the number of bytes accepted.
func (a *Assembler) writeAtomic(id, name string, r io.Reader, budget int64) error {
	tmp, err := os.CreateTemp(a.dirname(id), "."+name+"-*")
	if err != nil {
		return failure.Storage(err, "could not create chunk")
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	if budget >= 0 {
		r = io.LimitReader(r, budget+1)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return failure.Storage(err, "could not write chunk")
	}
	if budget >= 0 && n > budget {
		cleanup()
		return failure.Validation("upload exceeds the maximum size of %d bytes", a.maxSize)
	}

	if err = tmp.Sync(); err != nil {
		cleanup()
		return failure.Storage(err, "could not sync chunk")
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return failure.Storage(err, "could not close chunk")
	}

	if err = os.Rename(tmp.Name(), filepath.Join(a.dirname(id), name)); err != nil {
		os.Remove(tmp.Name())
		return failure.Storage(err, "could not move chunk into place")
	}
	return nil
}

// storedSize sums the size of the session chunks, ignoring the chunk except.
func (a *Assembler) storedSize(id string, except int) (int64, error) {
	entries, err := os.ReadDir(a.dirname(id))
	if err != nil {
		return 0, failure.Storage(err, "could not read session directory")
	}

	var size int64
	for _, entry := range entries {
		index, ok := parseChunkname(entry.Name())
		if !ok || index == except {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // Replaced concurrently.
		}
		size += info.Size()
	}
	return size, nil
}

func (a *Assembler) loadMetadata(id string) (Metadata, error) {
	var m Metadata

	payload, err := os.ReadFile(filepath.Join(a.dirname(id), metadataName))
	if err != nil {
		if os.IsNotExist(err) {
			return m, failure.NotFound("upload session %s not found", id)
		}
		return m, failure.Storage(err, "could not read metadata")
	}

	err = json.Unmarshal(payload, &m)
	return m, errors.Wrap(err, "could not parse metadata")
}

func (a *Assembler) lock(id string) *sync.RWMutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[id]
	if !ok {
		l = new(sync.RWMutex)
		a.locks[id] = l
	}
	return l
}

func (a *Assembler) forget(id string) {
	a.mu.Lock()
	delete(a.locks, id)
	a.mu.Unlock()
}

func (a *Assembler) dirname(id string) string {
	return filepath.Join(a.root, id)
}

func chunkname(index int) string {
	return chunkPrefix + strconv.Itoa(index)
}

func parseChunkname(name string) (int, bool) {
	if !strings.HasPrefix(name, chunkPrefix) {
		return 0, false
	}

	index, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}
