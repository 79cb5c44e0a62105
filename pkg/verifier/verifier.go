// Package verifier checks a repaired archive independently of the code that
// wrote it. Entries are decompressed with github.com/klauspost/compress/zip,
// which validates the CRC-32 of every entry, and every local header offset in
// the central directory is checked against the bytes actually found there.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zip"

	"rpfix/pkg/repair"
	"rpfix/pkg/zipstruct"
)

// maxDecompressedSize caps the bytes read from a single entry (100 GiB) so a
// small archive cannot expand without bound while it is checked.
const maxDecompressedSize = 100 << 30

// Problem kinds reported in an Issue.
const (
	ProblemChecksum     = "checksum mismatch"
	ProblemSize         = "size mismatch"
	ProblemLocalHeader  = "local header offset does not point at a local file header"
	ProblemHeaderDrift  = "local header disagrees with central directory"
	ProblemDecompress   = "decompression failed"
	ProblemUnsupported  = "unsupported compression method"
	ProblemOffsetPrefix = "archive data starts after a prefix"
)

// Issue is one problem found in an archive.
type Issue struct {
	Name    string
	Offset  int64
	Problem string
	Err     error
}

func (i Issue) String() string {
	s := fmt.Sprintf("%s at offset %d: %s", i.Name, i.Offset, i.Problem)
	if i.Err != nil {
		s += ": " + i.Err.Error()
	}
	return s
}

// Report is the outcome of verifying one archive.
type Report struct {
	Path     string
	Entries  int
	Verified int
	Skipped  int
	Issues   []Issue
}

// OK reports whether no issues were found.
func (r Report) OK() bool {
	return len(r.Issues) == 0
}

// Options configures Verify.
type Options struct {
	AllowTrailingData bool
}

// Verify checks the archive at path. The returned error is reserved for
// archives that cannot be opened at all; problems with individual entries are
// listed in the report.
func Verify(ctx context.Context, path string, opts Options) (Report, error) {
	report := Report{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return report, fmt.Errorf("failed to stat archive %s: %w", path, err)
	}

	archive, err := repair.ReadArchive(f, repair.Options{
		IgnoreDiskNumbers: true,
		AllowTrailingData: opts.AllowTrailingData,
	})
	if err != nil {
		return report, fmt.Errorf("failed to read central directory of %s: %w", path, err)
	}
	report.Entries = len(archive.Entries)

	if archive.BaseOffset != 0 {
		report.Issues = append(report.Issues, Issue{
			Name:    path,
			Offset:  archive.BaseOffset,
			Problem: ProblemOffsetPrefix,
		})
	}
	if err := checkLocalHeaders(ctx, f, archive, &report); err != nil {
		return report, err
	}

	zr, err := zip.NewReader(readerFor(f, archive), info.Size())
	if err != nil {
		return report, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		checkEntry(entry, &report)
	}

	return report, nil
}

// checkLocalHeaders confirms that every recorded local header offset lands on
// a local file header whose checksum and sizes match the directory.
func checkLocalHeaders(ctx context.Context, f io.ReadSeeker, archive *repair.Archive, report *Report) error {
	for _, e := range archive.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset := int64(e.Header.LocalHeaderOffset)
		issue := Issue{Name: string(e.Name), Offset: offset}

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to offset %d: %w", offset, err)
		}
		ok, err := zipstruct.HasSignature(f, zipstruct.LocalFileHeaderSignature)
		if err != nil {
			return fmt.Errorf("failed to read offset %d: %w", offset, err)
		}
		if !ok {
			issue.Problem = ProblemLocalHeader
			report.Issues = append(report.Issues, issue)
			continue
		}

		var lfh zipstruct.LocalFileHeader
		if err := zipstruct.ReadExactly(f, &lfh); err != nil {
			issue.Problem = ProblemLocalHeader
			issue.Err = err
			report.Issues = append(report.Issues, issue)
			continue
		}

		const flagDataDescriptor = 0x8
		if lfh.Flags&flagDataDescriptor != 0 {
			continue
		}
		if lfh.CRC32 != e.Header.CRC32 || lfh.UncompressedSize != e.Header.UncompressedSize ||
			lfh.CompressedSize != e.Header.CompressedSize {
			issue.Problem = ProblemHeaderDrift
			report.Issues = append(report.Issues, issue)
		}
	}
	return nil
}

// checkEntry decompresses entry fully and records any failure.
func checkEntry(entry *zip.File, report *Report) {
	issue := Issue{Name: entry.Name}
	if off, err := entry.DataOffset(); err == nil {
		issue.Offset = off
	}

	if entry.Method != zip.Store && entry.Method != zip.Deflate {
		slog.Debug("skipping entry with unsupported method",
			"name", entry.Name, "method", zipstruct.MethodName(entry.Method))
		report.Skipped++
		return
	}

	rc, err := entry.Open()
	if err != nil {
		issue.Problem = ProblemDecompress
		if errors.Is(err, zip.ErrAlgorithm) {
			issue.Problem = ProblemUnsupported
		}
		issue.Err = err
		report.Issues = append(report.Issues, issue)
		return
	}
	defer func() {
		_ = rc.Close()
	}()

	sum := crc32.NewIEEE()
	n, err := io.Copy(sum, io.LimitReader(rc, maxDecompressedSize))
	switch {
	case errors.Is(err, zip.ErrChecksum):
		issue.Problem = ProblemChecksum
		issue.Err = err
	case err != nil:
		issue.Problem = ProblemDecompress
		issue.Err = err
	case sum.Sum32() != entry.CRC32:
		// The zip reader skips the comparison when the recorded CRC is zero.
		issue.Problem = ProblemChecksum
		issue.Err = fmt.Errorf("computed %08x, directory says %08x", sum.Sum32(), entry.CRC32)
	case uint64(n) != entry.UncompressedSize64:
		issue.Problem = ProblemSize
		issue.Err = fmt.Errorf("read %d bytes, directory says %d", n, entry.UncompressedSize64)
	default:
		report.Verified++
		return
	}
	report.Issues = append(report.Issues, issue)
}
