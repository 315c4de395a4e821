package images

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/sitegrab/sitegrab/internal/metrics"
)

// MaxCandidates caps the number of distinct canonical keys tracked per job.
const MaxCandidates = 5000

// Entry is the registry's record of the best known representation for one
// logical image.
type Entry struct {
	Key       string
	SourceURL string
	Ext       string
	Path      string // absolute path of the stored payload
	Score     int
	Size      int64
}

// PendingFetch is a URL candidate that has not been materialized yet.
type PendingFetch struct {
	Key string
	URL string
}

// Registry maintains the best payload per canonical key under concurrent
// submission. Payload writes go to a fresh temp file and are renamed into
// place, so a reader never observes a torn payload for a key.
type Registry struct {
	dir      string
	minBytes int64
	logger   *zap.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	entries map[string]*Entry
	pending map[string]PendingFetch // best URL candidate per key, by URL score
	scores  map[string]int          // URL score of the pending candidate
}

// NewRegistry creates a registry whose payloads live in a fresh directory
// under workDir (the OS temp dir when empty). minKB drops materialized
// payloads smaller than the threshold.
func NewRegistry(workDir string, minKB int, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	dir, err := os.MkdirTemp(workDir, "sitegrab-img-*")
	if err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if minKB < 0 {
		minKB = 0
	}
	return &Registry{
		dir:      dir,
		minBytes: int64(minKB) * 1024,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		entries:  make(map[string]*Entry),
		pending:  make(map[string]PendingFetch),
		scores:   make(map[string]int),
	}, nil
}

// Dir exposes the temp directory (test hook).
func (r *Registry) Dir() string {
	return r.dir
}

// SubmitURL records a not-yet-fetched candidate, keeping the best-scoring
// URL per canonical key. Malformed URLs are ignored.
func (r *Registry) SubmitURL(rawURL string) {
	key := CanonicalKey(rawURL)
	if key == "" {
		return
	}
	score := ScoreURL(rawURL)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, tracked := r.entries[key]; !tracked {
		if _, queued := r.pending[key]; !queued && len(r.entries)+len(r.pending) >= MaxCandidates {
			return
		}
	}
	if prev, ok := r.scores[key]; !ok || score > prev {
		r.pending[key] = PendingFetch{Key: key, URL: rawURL}
		r.scores[key] = score
	}
}

// SubmitBuffer offers actual bytes for a representation. The payload is
// stored only if its score strictly beats the current best for the key and
// it passes the minimum-size filter. The identifier may be a real URL or a
// synthetic one for data-URIs (see SubmitDataURI).
func (r *Registry) SubmitBuffer(rawURL string, data []byte, contentType string) {
	if int64(len(data)) < r.minBytes || len(data) == 0 {
		return
	}
	key := CanonicalKey(rawURL)
	if key == "" {
		key = fmt.Sprintf("inline/%016x", xxhash.Sum64(data))
	}
	score := ScoreBuffer(rawURL, len(data))

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	current := r.entries[key]
	if current == nil && len(r.entries)+len(r.pending) >= MaxCandidates {
		if _, queued := r.pending[key]; !queued {
			r.mu.Unlock()
			return
		}
	}
	r.mu.Unlock()

	if current != nil && score <= current.Score {
		return
	}

	ext := FileExt(rawURL, contentType)
	finalPath := filepath.Join(r.dir, KeyHash(key)+ext)
	if err := r.writeAtomic(finalPath, data); err != nil {
		r.logger.Warn("image payload write failed", zap.String("key", key), zap.Error(err))
		return
	}

	superseded := current != nil
	if superseded && current.Path != finalPath {
		// Extension changed; the old payload is now stale.
		os.Remove(current.Path)
	}

	r.mu.Lock()
	r.entries[key] = &Entry{
		Key:       key,
		SourceURL: rawURL,
		Ext:       ext,
		Path:      finalPath,
		Score:     score,
		Size:      int64(len(data)),
	}
	delete(r.pending, key)
	delete(r.scores, key)
	r.mu.Unlock()

	metrics.ObserveImageStored(len(data), superseded)
}

// SubmitDataURI stores inline image bytes under a synthetic identifier so
// identical data-URIs collapse to one entry.
func (r *Registry) SubmitDataURI(data []byte, contentType string) {
	if len(data) == 0 {
		return
	}
	synthetic := fmt.Sprintf("https://inline.invalid/%016x", xxhash.Sum64(data))
	r.SubmitBuffer(synthetic, data, contentType)
}

// Pending drains the URL candidates that still need fetching. Candidates
// whose key already has a stored payload are kept: the fetched bytes may
// still score higher.
func (r *Registry) Pending() []PendingFetch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingFetch, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Entries returns the stored payloads ordered by descending size, the
// archive's deterministic order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Close removes all temporary payloads.
func (r *Registry) Close() error {
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("remove registry dir: %w", err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the registry dir and renames it
// over the final path.
func (r *Registry) writeAtomic(finalPath string, data []byte) error {
	tmp, err := os.CreateTemp(r.dir, ".payload-*")
	if err != nil {
		return fmt.Errorf("create temp payload: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close payload: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename payload: %w", err)
	}
	return nil
}

func (r *Registry) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}
