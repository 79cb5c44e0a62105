// Package journal provides an append-only JSONL log of repair runs.
// Each archive repair is recorded as an intent entry before the output is
// written and a confirmation entry once it has been renamed into place, so an
// interrupted run leaves an unconfirmed entry behind. Per-entry details of
// every rewritten header follow the confirmation.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry types.
const (
	TypeRepair = "repair"
	TypeEntry  = "entry"
	TypeVerify = "verify"
)

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Run       string    `json:"run,omitempty"`
	Type      string    `json:"type"`
	Source    string    `json:"src"`
	Dest      string    `json:"dst,omitempty"`
	Hash      string    `json:"hash,omitempty"`     // SHA-256 of the source archive
	DestHash  string    `json:"dst_hash,omitempty"` // SHA-256 of the written archive
	Success   bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`

	// Summary counters, set on confirmed repair entries.
	Entries     int `json:"entries,omitempty"`
	Changed     int `json:"changed,omitempty"`
	Passthrough int `json:"passthrough,omitempty"`

	// Header details, set on TypeEntry lines.
	Name      string `json:"name,omitempty"`
	Method    string `json:"method,omitempty"`
	OldCRC    uint32 `json:"old_crc,omitempty"`
	NewCRC    uint32 `json:"new_crc,omitempty"`
	OldSize   uint32 `json:"old_size,omitempty"`
	NewSize   uint32 `json:"new_size,omitempty"`
	OldOffset uint32 `json:"old_offset,omitempty"`
	NewOffset uint32 `json:"new_offset,omitempty"`
}

// Writer appends journal entries to a JSONL file. Each Log call writes one
// JSON line and calls file.Sync() to ensure durability.
//
// Writer is safe for concurrent use.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a journal writer at the given path. The parent directory
// must already exist. The file is created if it does not exist, or appended to
// if it does.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Log writes an entry to the journal and syncs to disk.
func (w *Writer) Log(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := w.encoder.Encode(entry); err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}

	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}

// Reader reads journal entries from a JSONL file.
type Reader struct {
	path string
}

// NewReader creates a journal reader for the given path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Entries reads all entries from the journal in order.
func (r *Reader) Entries() ([]Entry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return entries, fmt.Errorf("decode journal line %d: %w", lineNum, err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read journal: %w", err)
	}

	return entries, nil
}

// ErrPartialWrite is returned when a repair was started but never confirmed
// or reported as failed.
var ErrPartialWrite = errors.New("journal contains unconfirmed repairs")

// Validate returns ErrPartialWrite if any repair intent lacks a matching
// confirmation or failure record.
func (r *Reader) Validate() error {
	entries, err := r.Entries()
	if err != nil {
		return err
	}

	type opKey struct {
		run string
		src string
	}

	pending := make(map[opKey]bool)
	for i := range entries {
		if entries[i].Type != TypeRepair {
			continue
		}

		key := opKey{run: entries[i].Run, src: entries[i].Source}
		if entries[i].Success || entries[i].Error != "" {
			delete(pending, key)
		} else {
			pending[key] = true
		}
	}

	if len(pending) > 0 {
		return ErrPartialWrite
	}

	return nil
}
