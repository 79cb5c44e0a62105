// Package eocd locates the end of central directory record of a ZIP archive,
// together with the Zip64 locator that may precede it.
//
// The record is found by scanning backward from the end of the stream for its
// signature. A candidate is only accepted when its declared comment length
// accounts for the rest of the stream, so signature bytes that happen to
// appear inside a comment or an entry payload are skipped.
package eocd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"rpfix/pkg/zipstruct"
)

const (
	// Full size of the record including its signature.
	recordLen = zipstruct.SignatureLen + zipstruct.EndOfCentralDirectoryLen

	// Backward search window when no trailing data is allowed: the record
	// plus the longest possible comment.
	searchWindow = recordLen + math.MaxUint16

	// Distance from the end of the record signature back to the start of the
	// Zip64 locator signature.
	zip64LocatorBackOffset = zipstruct.Zip64EndOfCentralDirectoryLocatorLen + 2*zipstruct.SignatureLen

	// zip64RecordLen is the size of a Zip64 end record without extensible data.
	zip64RecordLen = zipstruct.SignatureLen + zipstruct.Zip64EndOfCentralDirectoryLen

	// Bytes shared by adjacent chunks so a signature split across a chunk
	// boundary is still seen.
	chunkOverlap = zipstruct.SignatureLen - 1

	defaultChunkSize = 4096
)

// ErrNotFound is wrapped by the format error returned when no acceptable
// record exists.
var ErrNotFound = errors.New("end of central directory record not found")

// Options tunes the search.
type Options struct {
	// AllowTrailingData accepts a record whose comment ends before the end of
	// the stream. The whole stream is scanned in that mode.
	AllowTrailingData bool
	// ChunkSize is the read size of the backward scan. Zero uses 4 KiB.
	ChunkSize int
}

// Result describes the located record.
type Result struct {
	Record zipstruct.EndOfCentralDirectory
	// Offset is the position of the record signature.
	Offset  int64
	Comment []byte

	// Locator is nil when the archive carries no Zip64 locator.
	Locator       *zipstruct.Zip64EndOfCentralDirectoryLocator
	LocatorOffset int64

	// Zip64 is set by Resolve64 whenever the locator leads to a Zip64 end
	// record, whether or not the 32-bit record defers to it. Zip64Offset is
	// the actual position of its signature.
	Zip64       *zipstruct.Zip64EndOfCentralDirectory
	Zip64Offset int64
}

// CommentOffset is the position of the first comment byte.
func (r Result) CommentOffset() int64 { return r.Offset + recordLen }

// Find locates the last acceptable end of central directory record in rs.
// On success rs is left positioned at the start of the archive comment.
func Find(rs io.ReadSeeker, opts Options) (Result, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to measure stream: %w", err)
	}

	notFound := &zipstruct.FormatError{
		Structure: "end of central directory",
		Offset:    size,
		Detail:    "signature not found scanning backward from end of stream",
		Err:       ErrNotFound,
	}
	if size < recordLen {
		return Result{}, notFound
	}

	lower := int64(0)
	if !opts.AllowTrailingData && size > searchWindow {
		lower = size - searchWindow
	}

	chunk := int64(opts.ChunkSize)
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	sig := zipstruct.SignatureBytes(zipstruct.EndOfCentralDirectorySignature)
	buf := make([]byte, chunk+chunkOverlap)

	// Candidates at or past size-recordLen+1 cannot hold a full record.
	end := size - recordLen + 1
	for end > lower {
		start := max(end-chunk, lower)
		readEnd := min(end+chunkOverlap, size)
		window := buf[:readEnd-start]

		if _, err := rs.Seek(start, io.SeekStart); err != nil {
			return Result{}, fmt.Errorf("failed to seek to offset %d: %w", start, err)
		}
		if _, err := io.ReadFull(rs, window); err != nil {
			return Result{}, fmt.Errorf("failed to read %d bytes at offset %d: %w", len(window), start, err)
		}

		for pos := end - 1; pos >= start; pos-- {
			i := pos - start
			if int(i)+len(sig) > len(window) || !matches(window[i:], sig) {
				continue
			}

			res, ok, err := tryCandidate(rs, pos, size, opts)
			if err != nil {
				return Result{}, err
			}
			if ok {
				return res, nil
			}
		}

		end = start
	}

	return Result{}, notFound
}

func matches(b, sig []byte) bool {
	return b[0] == sig[0] && b[1] == sig[1] && b[2] == sig[2] && b[3] == sig[3]
}

// tryCandidate decodes the record whose signature starts at pos and checks
// the comment length rule. Accepted candidates are completed with the
// comment and the optional Zip64 locator.
func tryCandidate(rs io.ReadSeeker, pos, size int64, opts Options) (Result, bool, error) {
	if _, err := rs.Seek(pos+zipstruct.SignatureLen, io.SeekStart); err != nil {
		return Result{}, false, fmt.Errorf("failed to seek to offset %d: %w", pos, err)
	}

	var rec zipstruct.EndOfCentralDirectory
	if err := zipstruct.ReadExactly(rs, &rec); err != nil {
		return Result{}, false, fmt.Errorf("failed to decode end of central directory at offset %d: %w", pos, err)
	}

	recordEnd := pos + recordLen + int64(rec.CommentLength)
	if recordEnd > size || (!opts.AllowTrailingData && recordEnd != size) {
		slog.Debug("rejected end of central directory candidate",
			"offset", pos, "commentLength", rec.CommentLength, "streamLength", size)
		return Result{}, false, nil
	}

	res := Result{Record: rec, Offset: pos}

	locatorPos := pos + zipstruct.SignatureLen - zip64LocatorBackOffset
	if locatorPos >= 0 {
		locator, err := readLocator(rs, locatorPos)
		if err != nil {
			return Result{}, false, err
		}
		if locator != nil {
			res.Locator = locator
			res.LocatorOffset = locatorPos
		}
	}

	comment := make([]byte, rec.CommentLength)
	if _, err := rs.Seek(res.CommentOffset(), io.SeekStart); err != nil {
		return Result{}, false, fmt.Errorf("failed to seek to archive comment: %w", err)
	}
	if _, err := io.ReadFull(rs, comment); err != nil {
		return Result{}, false, fmt.Errorf("failed to read archive comment: %w", err)
	}
	res.Comment = comment

	if _, err := rs.Seek(res.CommentOffset(), io.SeekStart); err != nil {
		return Result{}, false, fmt.Errorf("failed to seek to archive comment: %w", err)
	}

	return res, true, nil
}

func readLocator(rs io.ReadSeeker, pos int64) (*zipstruct.Zip64EndOfCentralDirectoryLocator, error) {
	if _, err := rs.Seek(pos, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to zip64 locator: %w", err)
	}

	ok, err := zipstruct.HasSignature(rs, zipstruct.Zip64EndOfCentralDirectoryLocatorSignature)
	if err != nil || !ok {
		return nil, err
	}

	var locator zipstruct.Zip64EndOfCentralDirectoryLocator
	if err := zipstruct.ReadExactly(rs, &locator); err != nil {
		return nil, fmt.Errorf("failed to decode zip64 locator at offset %d: %w", pos, err)
	}
	return &locator, nil
}

// Resolve64 reads the Zip64 end of central directory record that the locator
// in res points at. The record is looked for at the recorded offset and, for
// archives shifted by a prefix, immediately before the locator. When the
// 32-bit record defers to it, its values replace the 32-bit ones; values that
// do not fit produce an unsupported error. rs is left positioned at the start
// of the archive comment.
func Resolve64(rs io.ReadSeeker, res Result) (Result, error) {
	if res.Locator == nil {
		return res, nil
	}

	z64, off, err := readZip64(rs, res)
	if err != nil {
		return res, err
	}
	if z64 == nil {
		if res.Record.RequiresZip64() {
			return res, zipstruct.NewFormatError("zip64 end of central directory", int64(res.Locator.EndOfCentralDirectoryOffset))
		}
		slog.Debug("zip64 locator points at no zip64 end record", "offset", res.Locator.EndOfCentralDirectoryOffset)
	} else {
		res.Zip64 = z64
		res.Zip64Offset = off
	}

	if z64 != nil && res.Record.RequiresZip64() {
		if err := checkFits(z64); err != nil {
			return res, err
		}
		rec, _ := zipstruct.EndOfCentralDirectoryFrom64(z64)
		rec.CommentLength = res.Record.CommentLength
		res.Record = rec
	}

	if _, err := rs.Seek(res.CommentOffset(), io.SeekStart); err != nil {
		return res, fmt.Errorf("failed to seek to archive comment: %w", err)
	}
	return res, nil
}

// readZip64 returns the Zip64 end record and its position, or nil when
// neither candidate position holds one.
func readZip64(rs io.ReadSeeker, res Result) (*zipstruct.Zip64EndOfCentralDirectory, int64, error) {
	candidates := make([]int64, 0, 2)
	if recorded := res.Locator.EndOfCentralDirectoryOffset; recorded <= math.MaxInt64 && int64(recorded) < res.LocatorOffset {
		candidates = append(candidates, int64(recorded))
	}
	if before := res.LocatorOffset - zip64RecordLen; before >= 0 && (len(candidates) == 0 || candidates[0] != before) {
		candidates = append(candidates, before)
	}

	for _, off := range candidates {
		if _, err := rs.Seek(off, io.SeekStart); err != nil {
			return nil, 0, fmt.Errorf("failed to seek to zip64 end of central directory: %w", err)
		}
		ok, err := zipstruct.HasSignature(rs, zipstruct.Zip64EndOfCentralDirectorySignature)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read zip64 end of central directory: %w", err)
		}
		if !ok {
			continue
		}

		var z64 zipstruct.Zip64EndOfCentralDirectory
		if err := zipstruct.ReadExactly(rs, &z64); err != nil {
			return nil, 0, &zipstruct.FormatError{Structure: "zip64 end of central directory", Offset: off, Err: err}
		}
		return &z64, off, nil
	}
	return nil, 0, nil
}

func checkFits(z *zipstruct.Zip64EndOfCentralDirectory) error {
	fields := []struct {
		what  string
		value uint64
		limit uint64
	}{
		{"disk number", uint64(z.DiskNumber), math.MaxUint16},
		{"start disk number", uint64(z.StartDiskNumber), math.MaxUint16},
		{"entries on this disk", z.EntriesOnThisDisk, math.MaxUint16},
		{"total entries", z.TotalEntries, math.MaxUint16},
		{"central directory size", z.DirectorySize, math.MaxUint32},
		{"central directory offset", z.DirectoryOffset, math.MaxUint32},
	}
	for _, f := range fields {
		if f.value > f.limit {
			return &zipstruct.UnsupportedError{Reason: f.what, Value: f.value, Limit: f.limit}
		}
	}
	return nil
}
