package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"rsc.io/binaryregexp"
)

// Byte offsets of fields inside headers, counted from the signature.
const (
	CentralCRCOffset              = 16
	CentralCompressedSizeOffset   = 20
	CentralUncompressedSizeOffset = 24
	CentralLocalHeaderOffset      = 42
	LocalCRCOffset                = 14
	LocalUncompressedSizeOffset   = 22

	centralNameLenOffset = 28
	localNameLenOffset   = 26
)

var fixedModTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// ArchiveFile is one entry for BuildArchive.
type ArchiveFile struct {
	Name    string
	Content []byte
	Method  uint16
}

// Stored returns a store-method entry.
func Stored(name, content string) ArchiveFile {
	return ArchiveFile{Name: name, Content: []byte(content), Method: zip.Store}
}

// Deflated returns a deflate-method entry.
func Deflated(name, content string) ArchiveFile {
	return ArchiveFile{Name: name, Content: []byte(content), Method: zip.Deflate}
}

// BuildArchive returns a well-formed archive holding files in order.
func BuildArchive(t *testing.T, comment string, files ...ArchiveFile) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Method: f.Method, Modified: fixedModTime}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write(f.Content)
		require.NoError(t, err)
	}
	if comment != "" {
		require.NoError(t, zw.SetComment(comment))
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// WriteArchive builds an archive and stores it at path.
func WriteArchive(t *testing.T, path, comment string, files ...ArchiveFile) []byte {
	t.Helper()

	data := BuildArchive(t, comment, files...)
	CreateFileBytes(t, path, data)
	return data
}

// WriteArchiveIn builds an archive named name inside dir and returns its path.
func WriteArchiveIn(t *testing.T, dir, name string, files ...ArchiveFile) string {
	t.Helper()

	path := filepath.Join(dir, name)
	WriteArchive(t, path, "", files...)
	return path
}

// CentralHeaderAt returns the offset of the central directory header for name.
func CentralHeaderAt(t *testing.T, data []byte, name string) int {
	t.Helper()
	return headerAt(t, data, "PK\x01\x02", 42, centralNameLenOffset, name)
}

// LocalHeaderAt returns the offset of the local file header for name.
func LocalHeaderAt(t *testing.T, data []byte, name string) int {
	t.Helper()
	return headerAt(t, data, "PK\x03\x04", 26, localNameLenOffset, name)
}

func headerAt(t *testing.T, data []byte, sig string, fixedLen, nameLenOffset int, name string) int {
	t.Helper()

	re := binaryregexp.MustCompile(`(?s)` + binaryregexp.QuoteMeta(sig) + `.{` + strconv.Itoa(fixedLen) + `}` + binaryregexp.QuoteMeta(name))
	for _, loc := range re.FindAllIndex(data, -1) {
		if int(binary.LittleEndian.Uint16(data[loc[0]+nameLenOffset:])) == len(name) {
			return loc[0]
		}
	}

	require.Failf(t, "header not found", "no %q header for %s", sig, name)
	return -1
}

// PutUint32 overwrites four bytes of data at offset.
func PutUint32(data []byte, offset int, v uint32) {
	binary.LittleEndian.PutUint32(data[offset:], v)
}

// Uint32At reads four bytes of data at offset.
func Uint32At(data []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(data[offset:])
}

// CorruptEntry zeroes the CRC and uncompressed size of name in both its local
// and central headers, the damage typical of obfuscated resource packs.
func CorruptEntry(t *testing.T, data []byte, name string) {
	t.Helper()

	cdh := CentralHeaderAt(t, data, name)
	PutUint32(data, cdh+CentralCRCOffset, 0)
	PutUint32(data, cdh+CentralUncompressedSizeOffset, 0)

	lfh := LocalHeaderAt(t, data, name)
	PutUint32(data, lfh+LocalCRCOffset, 0)
	PutUint32(data, lfh+LocalUncompressedSizeOffset, 0)
}

// Prepend returns data with n filler bytes in front of it. Every stored
// offset becomes wrong by n.
func Prepend(data []byte, n int) []byte {
	out := bytes.Repeat([]byte{0x5a}, n)
	return append(out, data...)
}

// ReadEntries opens data with archive/zip and returns each entry's content
// keyed by name. It fails the test on any checksum error.
func ReadEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err, f.Name)
		require.NoError(t, rc.Close())
		out[f.Name] = content
	}
	return out
}

// ToZip64 rewrites the end of an archive without comment so that its counts,
// directory size and offset are read from a Zip64 record. totalDisks is
// stored in the Zip64 locator as given.
func ToZip64(t *testing.T, data []byte, totalDisks uint32) []byte {
	t.Helper()
	return appendZip64(t, data, totalDisks, true)
}

// WithZip64Records inserts a Zip64 end record and locator before the end
// record of an archive without comment, keeping the real values in the
// 32-bit record, as some writers do for every archive.
func WithZip64Records(t *testing.T, data []byte) []byte {
	t.Helper()
	return appendZip64(t, data, 1, false)
}

// InsertBeforeEnd returns data with n zero bytes between the central
// directory and the end record of an archive without comment.
func InsertBeforeEnd(t *testing.T, data []byte, n int) []byte {
	t.Helper()

	eocd := endRecordAt(t, data)
	out := append([]byte(nil), data[:eocd]...)
	out = append(out, make([]byte, n)...)
	return append(out, data[eocd:]...)
}

func endRecordAt(t *testing.T, data []byte) int {
	t.Helper()

	eocd := len(data) - 22
	require.GreaterOrEqual(t, eocd, 0)
	require.Equal(t, uint32(0x06054b50), Uint32At(data, eocd), "archive must end with an end record and no comment")
	return eocd
}

func appendZip64(t *testing.T, data []byte, totalDisks uint32, markers bool) []byte {
	t.Helper()

	eocd := endRecordAt(t, data)
	count := binary.LittleEndian.Uint16(data[eocd+10:])
	dirSize := Uint32At(data, eocd+12)
	dirOffset := Uint32At(data, eocd+16)

	out := append([]byte(nil), data[:eocd]...)
	z64Offset := uint64(len(out))

	out = binary.LittleEndian.AppendUint32(out, 0x06064b50)
	out = binary.LittleEndian.AppendUint64(out, 44)
	out = binary.LittleEndian.AppendUint16(out, 45)
	out = binary.LittleEndian.AppendUint16(out, 45)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint64(out, uint64(count))
	out = binary.LittleEndian.AppendUint64(out, uint64(count))
	out = binary.LittleEndian.AppendUint64(out, uint64(dirSize))
	out = binary.LittleEndian.AppendUint64(out, uint64(dirOffset))

	out = binary.LittleEndian.AppendUint32(out, 0x07064b50)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint64(out, z64Offset)
	out = binary.LittleEndian.AppendUint32(out, totalDisks)

	if markers {
		count, dirSize, dirOffset = 0xffff, 0xffffffff, 0xffffffff
	}
	out = binary.LittleEndian.AppendUint32(out, 0x06054b50)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint16(out, count)
	out = binary.LittleEndian.AppendUint16(out, count)
	out = binary.LittleEndian.AppendUint32(out, dirSize)
	out = binary.LittleEndian.AppendUint32(out, dirOffset)
	out = binary.LittleEndian.AppendUint16(out, 0)
	return out
}
