// Package repair rebuilds ZIP archives whose local headers and central
// directory disagree with the payloads they describe.
//
// Every entry payload is re-validated (stored entries are checksummed as-is,
// deflated entries are inflated and checksummed) and copied unmodified into a
// fresh archive whose local headers, central directory and end record are
// consistent with each other.
package repair

import (
	"context"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"rpfix/pkg/centraldir"
	"rpfix/pkg/zipstruct"
)

const flagDataDescriptor = 0x8

// Options configures Rebuild.
type Options struct {
	// IgnoreDiskNumbers zeroes disk numbers instead of rejecting archives
	// that claim to span several disks.
	IgnoreDiskNumbers bool
	// AllowTrailingData accepts bytes after the archive comment.
	AllowTrailingData bool
	// OnEntry is called after each entry has been written.
	OnEntry func(index, total int, report EntryReport)
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{IgnoreDiskNumbers: true}
}

// EntryReport describes what Rebuild did to one entry.
type EntryReport struct {
	Name           string
	Method         uint16
	OldCRC         uint32
	NewCRC         uint32
	OldSize        uint32
	NewSize        uint32
	OldOffset      uint32
	NewOffset      uint32
	CompressedSize uint32
	Recomputed     bool
}

// Changed reports whether any repaired field differs from the source.
func (r EntryReport) Changed() bool {
	return r.OldCRC != r.NewCRC || r.OldSize != r.NewSize || r.OldOffset != r.NewOffset
}

// Result summarizes a rebuild.
type Result struct {
	Entries         []EntryReport
	DirectoryOffset uint32
	DirectorySize   uint32
	Comment         []byte
	// BaseOffset is the number of bytes found before the first local header,
	// for example a self-extractor stub.
	BaseOffset   int64
	BytesWritten int64
}

// Changed counts entries whose CRC, size or offset were rewritten.
func (r Result) Changed() int {
	n := 0
	for _, e := range r.Entries {
		if e.Changed() {
			n++
		}
	}
	return n
}

// Passthrough counts entries that were copied without re-validation.
func (r Result) Passthrough() int {
	n := 0
	for _, e := range r.Entries {
		if !e.Recomputed {
			n++
		}
	}
	return n
}

// Rebuild reads the archive in src and writes a repaired copy to dst. dst is
// only appended to. On error, whatever was already written remains in dst.
func Rebuild(ctx context.Context, src io.ReadSeeker, dst io.Writer, opts Options) (Result, error) {
	archive, err := ReadArchive(src, opts)
	if err != nil {
		return Result{}, err
	}
	end := archive.Record
	entries := archive.Entries
	base := archive.BaseOffset

	cw := &countingWriter{w: dst}
	res := Result{
		Entries:    make([]EntryReport, 0, len(entries)),
		Comment:    archive.End.Comment,
		BaseOffset: base,
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		report, err := rebuildEntry(src, cw, e, base)
		if err != nil {
			return res, err
		}
		res.Entries = append(res.Entries, report)
		res.BytesWritten = cw.n

		if opts.OnEntry != nil {
			opts.OnEntry(i, len(entries), report)
		}
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	dirOffset, err := zipstruct.CheckedUint32(cw.n, "destination too large")
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		if _, err := e.WriteTo(cw); err != nil {
			return res, fmt.Errorf("failed to write central directory entry %s: %w", e.Name, err)
		}
	}
	dirSize, err := zipstruct.CheckedUint32(cw.n-int64(dirOffset), "destination too large")
	if err != nil {
		return res, err
	}
	count, err := zipstruct.CheckedUint16(len(entries), "entry count")
	if err != nil {
		return res, err
	}

	end.EntriesOnThisDisk = count
	end.TotalEntries = count
	end.DirectoryOffset = dirOffset
	end.DirectorySize = dirSize

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.Write(zipstruct.SignatureBytes(zipstruct.EndOfCentralDirectorySignature))
	_, _ = buf.Write(zipstruct.Encode(&end))
	_, _ = buf.Write(archive.End.Comment)
	if _, err := buf.WriteTo(cw); err != nil {
		return res, fmt.Errorf("failed to write end of central directory: %w", err)
	}

	res.DirectoryOffset = dirOffset
	res.DirectorySize = dirSize
	res.BytesWritten = cw.n
	return res, nil
}

// rebuildEntry repairs e in place and appends its local header and payload
// to cw.
func rebuildEntry(src io.ReadSeeker, cw *countingWriter, e *centraldir.Entry, base int64) (EntryReport, error) {
	report := EntryReport{
		Name:           string(e.Name),
		Method:         e.Header.CompressionMethod,
		OldCRC:         e.Header.CRC32,
		OldSize:        e.Header.UncompressedSize,
		OldOffset:      e.Header.LocalHeaderOffset,
		CompressedSize: e.Header.CompressedSize,
	}

	check, err := recomputeAt(src, e, base+int64(e.Header.LocalHeaderOffset))
	if err != nil {
		return report, err
	}

	newOffset, err := zipstruct.CheckedUint32(cw.n, "destination too large")
	if err != nil {
		return report, err
	}

	e.Header.CRC32 = check.CRC32
	e.Header.UncompressedSize = check.UncompressedSize
	e.Header.LocalHeaderOffset = newOffset
	// The payload is copied without whatever followed it, so readers must
	// not look for a data descriptor.
	e.Header.Flags &^= flagDataDescriptor
	if err := e.ApplyChanges(); err != nil {
		return report, err
	}

	nameExtra, err := e.NameExtra()
	if err != nil {
		return report, err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	lfh := e.LocalHeader()
	_, _ = buf.Write(zipstruct.SignatureBytes(zipstruct.LocalFileHeaderSignature))
	_, _ = buf.Write(zipstruct.Encode(&lfh))
	buf.B = append(buf.B, nameExtra...)
	if _, err := buf.WriteTo(cw); err != nil {
		return report, fmt.Errorf("failed to write local file header for %s: %w", e.Name, err)
	}

	if err := copyPayload(src, cw, check.DataOffset, int64(e.Header.CompressedSize)); err != nil {
		return report, fmt.Errorf("failed to copy payload of %s: %w", e.Name, err)
	}
	if _, err := zipstruct.CheckedUint32(cw.n, "destination too large"); err != nil {
		return report, err
	}

	report.NewCRC = check.CRC32
	report.NewSize = check.UncompressedSize
	report.NewOffset = newOffset
	report.Recomputed = check.Recomputed
	return report, nil
}

func copyPayload(src io.ReadSeeker, dst io.Writer, offset, n int64) error {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	bufPtr := getBuffer()
	defer putBuffer(bufPtr)

	copied, err := io.CopyBuffer(dst, io.LimitReader(src, n), *bufPtr)
	if err != nil {
		return err
	}
	if copied < n {
		return &zipstruct.FormatError{
			Structure: "payload",
			Offset:    offset,
			Detail:    fmt.Sprintf("truncated after %d of %d bytes", copied, n),
			Err:       io.ErrUnexpectedEOF,
		}
	}
	return nil
}

// countingWriter tracks the destination position without seeking it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
