// Package hasher computes SHA-256 digests of archives for the repair journal,
// hashing several files in parallel when a batch is processed.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"runtime"
	"sync"
)

// HashResult contains the result of hashing a single file.
type HashResult struct {
	Path  string
	Hash  string
	Size  int64
	Error error
}

// Hasher computes SHA-256 hashes of files with optional parallel processing.
type Hasher struct {
	workers int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithWorkers sets the number of worker goroutines for parallel hashing.
// Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.workers = n
		}
	}
}

// New creates a new Hasher with the given options.
func New(opts ...Option) *Hasher {
	h := &Hasher{
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Workers returns the number of worker goroutines configured.
func (h *Hasher) Workers() int {
	return h.workers
}

// ComputeHash computes the full SHA-256 hash of a file.
func (h *Hasher) ComputeHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(sum.Sum(nil)), nil
}

// HashFiles computes hashes for multiple files concurrently.
// Returns a channel that will receive HashResult for each file.
// The channel is closed when all files have been processed.
func (h *Hasher) HashFiles(paths []string) <-chan HashResult {
	results := make(chan HashResult, h.workers)

	go func() {
		defer close(results)

		work := make(chan string, h.workers)

		var wg sync.WaitGroup
		for i := 0; i < h.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for path := range work {
					digest, err := h.ComputeHash(path)
					var size int64
					if err == nil {
						if info, statErr := os.Stat(path); statErr == nil {
							size = info.Size()
						}
					}
					results <- HashResult{
						Path:  path,
						Hash:  digest,
						Size:  size,
						Error: err,
					}
				}
			}()
		}

		for _, path := range paths {
			work <- path
		}
		close(work)

		wg.Wait()
	}()

	return results
}

// HashAll hashes paths concurrently and returns digests keyed by path.
// Files that could not be hashed are reported in the second map.
func (h *Hasher) HashAll(paths []string) (map[string]string, map[string]error) {
	digests := make(map[string]string, len(paths))
	failures := make(map[string]error)
	for res := range h.HashFiles(paths) {
		if res.Error != nil {
			failures[res.Path] = res.Error
			continue
		}
		digests[res.Path] = res.Hash
	}
	return digests, failures
}

// Writer is an io.Writer that hashes everything written through it.
type Writer struct {
	w   io.Writer
	sum hash.Hash
}

// NewWriter wraps w so that the SHA-256 of the written bytes is available
// from Sum once writing is done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, sum: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	_, _ = w.sum.Write(p[:n])
	return n, err
}

// Sum returns the hex digest of the bytes written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.sum.Sum(nil))
}
