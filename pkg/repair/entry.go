package repair

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/flate"

	"rpfix/pkg/centraldir"
	"rpfix/pkg/zipstruct"
)

const flagEncrypted = 0x1

// EntryCheck is the outcome of re-validating one entry's payload.
type EntryCheck struct {
	// Recomputed is false for entries passed through untouched: unknown
	// compression methods and encrypted entries.
	Recomputed       bool
	CRC32            uint32
	UncompressedSize uint32

	HeaderOffset int64
	// DataOffset is where the compressed payload starts in the source.
	DataOffset int64
}

// RecomputeEntry locates the local header of e in src and recomputes the
// CRC-32 and uncompressed size of its payload. e is not modified.
func RecomputeEntry(src io.ReadSeeker, e *centraldir.Entry) (EntryCheck, error) {
	return recomputeAt(src, e, int64(e.Header.LocalHeaderOffset))
}

func recomputeAt(src io.ReadSeeker, e *centraldir.Entry, headerOffset int64) (EntryCheck, error) {
	lfh, err := readLocalHeader(src, headerOffset)
	if err != nil {
		return EntryCheck{}, err
	}

	check := EntryCheck{
		CRC32:            e.Header.CRC32,
		UncompressedSize: e.Header.UncompressedSize,
		HeaderOffset:     headerOffset,
		DataOffset: headerOffset + zipstruct.SignatureLen + zipstruct.LocalFileHeaderLen +
			int64(lfh.FileNameLength) + int64(lfh.ExtraFieldLength),
	}

	method := e.Header.CompressionMethod
	if e.Header.Flags&flagEncrypted != 0 || (method != zipstruct.MethodStore && method != zipstruct.MethodDeflate) {
		slog.Debug("passing entry through unchanged",
			"name", string(e.Name), "method", zipstruct.MethodName(method), "flags", e.Header.Flags)
		return check, nil
	}

	if _, err := src.Seek(check.DataOffset, io.SeekStart); err != nil {
		return EntryCheck{}, fmt.Errorf("failed to seek to payload of %s: %w", e.Name, err)
	}

	payload := &countingReader{r: io.LimitReader(src, int64(e.Header.CompressedSize))}

	var crc, size uint32
	switch method {
	case zipstruct.MethodStore:
		crc, size, err = CheckStream(payload)
	case zipstruct.MethodDeflate:
		fr := flate.NewReader(payload)
		crc, size, err = CheckStream(fr)
		if cerr := fr.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		var corrupt flate.CorruptInputError
		if errors.As(err, &corrupt) || errors.Is(err, io.ErrUnexpectedEOF) {
			return EntryCheck{}, &zipstruct.FormatError{
				Structure: "payload of " + string(e.Name),
				Offset:    check.DataOffset,
				Detail:    "corrupt compressed data",
				Err:       err,
			}
		}
		return EntryCheck{}, fmt.Errorf("failed to read payload of %s: %w", e.Name, err)
	}

	if method == zipstruct.MethodStore && payload.n < int64(e.Header.CompressedSize) {
		return EntryCheck{}, &zipstruct.FormatError{
			Structure: "payload of " + string(e.Name),
			Offset:    check.DataOffset,
			Detail:    fmt.Sprintf("truncated after %d of %d bytes", payload.n, e.Header.CompressedSize),
			Err:       io.ErrUnexpectedEOF,
		}
	}

	check.Recomputed = true
	check.CRC32 = crc
	check.UncompressedSize = size
	return check, nil
}

func readLocalHeader(src io.ReadSeeker, offset int64) (zipstruct.LocalFileHeader, error) {
	var lfh zipstruct.LocalFileHeader

	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return lfh, fmt.Errorf("failed to seek to local file header at offset %d: %w", offset, err)
	}

	ok, err := zipstruct.HasSignature(src, zipstruct.LocalFileHeaderSignature)
	if err != nil {
		return lfh, fmt.Errorf("failed to read local file header at offset %d: %w", offset, err)
	}
	if !ok {
		return lfh, zipstruct.NewFormatError("local file header", offset)
	}

	if err := zipstruct.ReadExactly(src, &lfh); err != nil {
		return lfh, &zipstruct.FormatError{Structure: "local file header", Offset: offset, Detail: "truncated", Err: err}
	}
	return lfh, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
