// Some Zip64 archives written by OneDrive and the built-in Windows ZIP tool
// store "total number of disks" in the Zip64 locator as 0 instead of 1. The
// zip reader rejects them with zip.ErrFormat although the rest of the archive
// is readable.
//
// References:
// - https://github.com/python/cpython/issues/66300
// - https://www.bitsgalore.org/2020/03/11/does-microsoft-onedrive-export-large-ZIP-files-that-are-corrupt
//
// When the anomaly is present the field is patched in memory through a
// ReaderAt overlay. The file on disk is never modified.
package verifier

import (
	"io"

	"rpfix/pkg/repair"
	"rpfix/pkg/zipstruct"
)

// Offset of the "total number of disks" field from the locator signature.
const zip64LocatorTotalDisksFieldOffset = zipstruct.SignatureLen + 4 + 8

var zip64LocatorSingleDiskValue = [4]byte{1, 0, 0, 0}

// readerFor returns r, overlaid with the total-disks fix when archive shows
// the anomaly.
func readerFor(r io.ReaderAt, archive *repair.Archive) io.ReaderAt {
	loc := archive.End.Locator
	if loc == nil || loc.DiskNumber != 0 || loc.TotalDisks != 0 {
		return r
	}

	return &patchedReaderAt{
		base:        r,
		patchOffset: archive.End.LocatorOffset + zip64LocatorTotalDisksFieldOffset,
		patchBytes:  zip64LocatorSingleDiskValue[:],
	}
}

// patchedReaderAt overlays patchBytes at patchOffset on reads from base.
type patchedReaderAt struct {
	base        io.ReaderAt
	patchOffset int64
	patchBytes  []byte
}

func (p *patchedReaderAt) ReadAt(buf []byte, off int64) (int, error) {
	n, err := p.base.ReadAt(buf, off)
	if n <= 0 {
		return n, err
	}

	readEnd := off + int64(n)
	patchStart := p.patchOffset
	patchEnd := p.patchOffset + int64(len(p.patchBytes))

	if readEnd <= patchStart || off >= patchEnd {
		return n, err
	}

	start := max(off, patchStart)
	end := min(readEnd, patchEnd)

	copy(
		buf[start-off:end-off],
		p.patchBytes[start-patchStart:end-patchStart],
	)

	return n, err
}
