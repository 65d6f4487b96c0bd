package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Reader is the dashboard-side view of the snapshot file. It never writes.
//
// Reads are double-gated: the file is re-opened only when its mtime moved,
// and re-parsed only when the content hash actually changed. The hash gate
// keeps rewrites with identical content from forcing a JSON parse per poll.
// A write that leaves the mtime unchanged is not seen until the mtime moves.
type Reader struct {
	mu       sync.Mutex
	filePath string
	lastMod  time.Time
	lastHash uint64
	cached   AutopilotState
	loaded   bool
}

// NewReader creates a Reader for the snapshot at filePath.
func NewReader(filePath string) *Reader {
	return &Reader{filePath: filePath}
}

// Get returns the latest snapshot, re-reading the file only when it changed
// since the previous call. A missing file returns os.ErrNotExist wrapped.
func (r *Reader) Get() (AutopilotState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.filePath)
	if err != nil {
		return AutopilotState{}, fmt.Errorf("reading state %q: %w", r.filePath, err)
	}

	if r.loaded && info.ModTime().Equal(r.lastMod) {
		return r.cached.Clone(), nil
	}

	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return AutopilotState{}, fmt.Errorf("reading state %q: %w", r.filePath, err)
	}

	hash := xxhash.Sum64(data)
	if r.loaded && hash == r.lastHash {
		// Touched but unchanged; refresh the mtime gate only.
		r.lastMod = info.ModTime()
		return r.cached.Clone(), nil
	}

	var st AutopilotState
	if err := json.Unmarshal(data, &st); err != nil {
		return AutopilotState{}, fmt.Errorf("decoding state %q: %w", r.filePath, err)
	}

	r.cached = st
	r.lastMod = info.ModTime()
	r.lastHash = hash
	r.loaded = true
	return r.cached.Clone(), nil
}
