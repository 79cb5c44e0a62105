package repair

import (
	"fmt"
	"io"
	"log/slog"

	"rpfix/pkg/centraldir"
	"rpfix/pkg/eocd"
	"rpfix/pkg/zipstruct"
)

// Archive is the decoded directory of a source archive.
type Archive struct {
	// End is the located end record, with Zip64 values resolved.
	End eocd.Result
	// Record is End.Record after the disk number rules were applied.
	Record  zipstruct.EndOfCentralDirectory
	Entries []*centraldir.Entry
	// BaseOffset is added to every recorded offset to find the actual
	// position in the stream.
	BaseOffset int64
}

// DirectoryStart is the actual position of the first central directory
// header in the stream.
func (a *Archive) DirectoryStart() int64 {
	return a.BaseOffset + int64(a.Record.DirectoryOffset)
}

// ReadArchive locates the end record of src and decodes its central
// directory. Only IgnoreDiskNumbers and AllowTrailingData are used from opts.
func ReadArchive(src io.ReadSeeker, opts Options) (*Archive, error) {
	found, err := eocd.Find(src, eocd.Options{AllowTrailingData: opts.AllowTrailingData})
	if err != nil {
		return nil, err
	}
	found, err = eocd.Resolve64(src, found)
	if err != nil {
		return nil, err
	}

	end := found.Record
	if err := checkDisks(&end.DiskNumber, opts.IgnoreDiskNumbers); err != nil {
		return nil, err
	}
	if err := checkDisks(&end.StartDiskNumber, opts.IgnoreDiskNumbers); err != nil {
		return nil, err
	}

	// The directory ends where the Zip64 end record starts, if there is one,
	// otherwise at the 32-bit end record.
	dirEnd := found.Offset
	if found.Zip64 != nil {
		dirEnd = found.Zip64Offset
	}
	base := dirEnd - int64(end.DirectorySize) - int64(end.DirectoryOffset)
	if base != 0 {
		// Bytes between the directory and the end record look like a prefix.
		// Trust the recorded offset when a directory header sits there.
		ok, err := directoryAt(src, int64(end.DirectoryOffset))
		if err != nil {
			return nil, err
		}
		if ok {
			base = 0
		}
	}
	if base < 0 {
		return nil, &zipstruct.FormatError{
			Structure: "central directory",
			Offset:    int64(end.DirectoryOffset),
			Detail:    fmt.Sprintf("directory of %d bytes overlaps end record at offset %d", end.DirectorySize, dirEnd),
		}
	}
	if base > 0 {
		slog.Debug("archive data starts after a prefix", "bytes", base)
	}

	entries, err := readDirectory(src, base+int64(end.DirectoryOffset), int64(end.DirectorySize), opts.IgnoreDiskNumbers)
	if err != nil {
		return nil, err
	}

	return &Archive{End: found, Record: end, Entries: entries, BaseOffset: base}, nil
}

func checkDisks(field *uint16, ignore bool) error {
	if ignore {
		*field = 0
		return nil
	}
	if *field != 0 {
		return &zipstruct.UnsupportedError{Reason: fmt.Sprintf("spanned archive (disk %d)", *field)}
	}
	return nil
}

// directoryAt reports whether a central directory header signature starts at
// offset.
func directoryAt(src io.ReadSeeker, offset int64) (bool, error) {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return false, fmt.Errorf("failed to seek to central directory: %w", err)
	}
	ok, err := zipstruct.HasSignature(src, zipstruct.CentralDirectoryHeaderSignature)
	if err != nil {
		return false, fmt.Errorf("failed to read central directory at offset %d: %w", offset, err)
	}
	return ok, nil
}

// readDirectory decodes every entry stored in [offset, offset+size).
func readDirectory(src io.ReadSeeker, offset, size int64, ignoreDisks bool) ([]*centraldir.Entry, error) {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to central directory: %w", err)
	}

	var entries []*centraldir.Entry
	pos := offset
	for pos < offset+size {
		ok, err := zipstruct.HasSignature(src, zipstruct.CentralDirectoryHeaderSignature)
		if err != nil {
			return nil, fmt.Errorf("failed to read central directory at offset %d: %w", pos, err)
		}
		if !ok {
			return nil, zipstruct.NewFormatError("central directory header", pos)
		}

		e, err := centraldir.ReadEntry(src)
		if err != nil {
			return nil, &zipstruct.FormatError{Structure: "central directory header", Offset: pos, Detail: "truncated", Err: err}
		}
		if err := checkDisks(&e.Header.StartDiskNumber, ignoreDisks); err != nil {
			return nil, err
		}

		entries = append(entries, e)
		pos += int64(e.Size())
	}

	return entries, nil
}
