package zipstruct

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndOfCentralDirectoryLayout(t *testing.T) {
	rec := EndOfCentralDirectory{
		DiskNumber:        1,
		StartDiskNumber:   2,
		EntriesOnThisDisk: 3,
		TotalEntries:      4,
		DirectorySize:     0x11223344,
		DirectoryOffset:   0x55667788,
		CommentLength:     0x0102,
	}

	b := Encode(&rec)
	require.Len(t, b, EndOfCentralDirectoryLen)

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(b[0:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(b[6:]))
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(b[8:]))
	assert.Equal(t, uint32(0x55667788), binary.LittleEndian.Uint32(b[12:]))
	assert.Equal(t, []byte{0x02, 0x01}, b[16:18])

	var decoded EndOfCentralDirectory
	Decode(&decoded, b)
	assert.Equal(t, rec, decoded)
}

func TestCentralDirectoryHeaderLayout(t *testing.T) {
	rec := CentralDirectoryHeader{
		VersionMadeBy:      20,
		VersionNeeded:      20,
		CompressionMethod:  MethodDeflate,
		CRC32:              0x352441c2,
		CompressedSize:     5,
		UncompressedSize:   3,
		FileNameLength:     7,
		ExternalAttributes: 0x81a40000,
		LocalHeaderOffset:  0x100,
	}

	b := Encode(&rec)
	require.Len(t, b, CentralDirectoryHeaderLen)
	assert.Equal(t, uint16(MethodDeflate), binary.LittleEndian.Uint16(b[6:]))
	assert.Equal(t, uint32(0x352441c2), binary.LittleEndian.Uint32(b[12:]))
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(b[24:]))
	assert.Equal(t, uint32(0x100), binary.LittleEndian.Uint32(b[38:]))

	var decoded CentralDirectoryHeader
	Decode(&decoded, b)
	assert.Equal(t, rec, decoded)
}

func TestRecordsRoundTrip(t *testing.T) {
	records := []struct {
		name string
		in   Record
		out  Record
	}{
		{
			name: "locator",
			in:   &Zip64EndOfCentralDirectoryLocator{DiskNumber: 0, EndOfCentralDirectoryOffset: 0x1_0000_0010, TotalDisks: 1},
			out:  &Zip64EndOfCentralDirectoryLocator{},
		},
		{
			name: "zip64 end of central directory",
			in: &Zip64EndOfCentralDirectory{
				RecordSize:      44,
				VersionMadeBy:   45,
				VersionNeeded:   45,
				TotalEntries:    70000,
				DirectorySize:   0x1_0000_0000,
				DirectoryOffset: 12,
			},
			out: &Zip64EndOfCentralDirectory{},
		},
		{
			name: "local file header",
			in:   &LocalFileHeader{VersionNeeded: 20, CRC32: 1, CompressedSize: 2, UncompressedSize: 3, FileNameLength: 4, ExtraFieldLength: 5},
			out:  &LocalFileHeader{},
		},
	}

	for _, tc := range records {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, tc.in))
			require.Equal(t, tc.in.Len(), buf.Len())

			require.NoError(t, ReadExactly(&buf, tc.out))
			assert.Equal(t, tc.in, tc.out)
		})
	}
}

func TestReverseEndiannessIsInvolution(t *testing.T) {
	rec := CentralDirectoryHeader{VersionMadeBy: 0x0102, CRC32: 0x01020304, LocalHeaderOffset: 7}
	orig := rec

	rec.ReverseEndianness()
	assert.Equal(t, uint16(0x0201), rec.VersionMadeBy)
	assert.Equal(t, uint32(0x04030201), rec.CRC32)

	rec.ReverseEndianness()
	assert.Equal(t, orig, rec)
}

func TestEncodeIntoLeavesRecordUnchanged(t *testing.T) {
	rec := LocalFileHeader{CRC32: 0xdeadbeef, FileNameLength: 3}
	orig := rec

	b := make([]byte, LocalFileHeaderLen)
	EncodeInto(&rec, b)

	assert.Equal(t, orig, rec)
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(b[10:]))
}

func TestTryReadShortInput(t *testing.T) {
	var rec EndOfCentralDirectory

	ok, err := TryRead(bytes.NewReader(make([]byte, 5)), &rec)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = TryRead(bytes.NewReader(nil), &rec)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = TryRead(bytes.NewReader(make([]byte, EndOfCentralDirectoryLen)), &rec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadExactlyShortInput(t *testing.T) {
	var rec LocalFileHeader

	err := ReadExactly(bytes.NewReader(make([]byte, 10)), &rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = ReadExactly(bytes.NewReader(nil), &rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTryReadPropagatesReadErrors(t *testing.T) {
	boom := errors.New("boom")
	var rec EndOfCentralDirectory

	ok, err := TryRead(failingReader{err: boom}, &rec)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestHasSignature(t *testing.T) {
	ok, err := HasSignature(bytes.NewReader([]byte("PK\x03\x04rest")), LocalFileHeaderSignature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasSignature(bytes.NewReader([]byte("PK\x01\x02")), LocalFileHeaderSignature)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = HasSignature(bytes.NewReader([]byte("PK")), LocalFileHeaderSignature)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []byte("PK\x05\x06"), SignatureBytes(EndOfCentralDirectorySignature))
	assert.Equal(t, []byte("PK\x06\x07"), SignatureBytes(Zip64EndOfCentralDirectoryLocatorSignature))
}

func TestLocalFileHeaderFrom(t *testing.T) {
	cdh := CentralDirectoryHeader{
		VersionMadeBy:     63,
		VersionNeeded:     20,
		Flags:             0x0800,
		CompressionMethod: MethodDeflate,
		ModTime:           100,
		ModDate:           200,
		CRC32:             42,
		CompressedSize:    10,
		UncompressedSize:  20,
		FileNameLength:    3,
		ExtraFieldLength:  8,
		CommentLength:     9,
		LocalHeaderOffset: 1234,
	}

	lfh := LocalFileHeaderFrom(cdh)
	assert.Equal(t, LocalFileHeader{
		VersionNeeded:     20,
		Flags:             0x0800,
		CompressionMethod: MethodDeflate,
		ModTime:           100,
		ModDate:           200,
		CRC32:             42,
		CompressedSize:    10,
		UncompressedSize:  20,
		FileNameLength:    3,
		ExtraFieldLength:  8,
	}, lfh)
}

func TestRequiresZip64(t *testing.T) {
	assert.False(t, (&EndOfCentralDirectory{TotalEntries: 3}).RequiresZip64())
	assert.True(t, (&EndOfCentralDirectory{TotalEntries: Zip64Marker16}).RequiresZip64())
	assert.True(t, (&EndOfCentralDirectory{DirectoryOffset: Zip64Marker32}).RequiresZip64())
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "store", MethodName(MethodStore))
	assert.Equal(t, "deflate", MethodName(MethodDeflate))
	assert.Equal(t, "zstd", MethodName(93))
	assert.Equal(t, "unknown", MethodName(1234))
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestSaturateUint32(t *testing.T) {
	v, over := SaturateUint32(0x1_0000_0001)
	assert.Equal(t, uint32(0xFFFFFFFF), v)
	assert.True(t, over)

	v, over = SaturateUint32(math.MaxUint32)
	assert.Equal(t, uint32(math.MaxUint32), v)
	assert.False(t, over)

	v, over = SaturateUint32(7)
	assert.Equal(t, uint32(7), v)
	assert.False(t, over)
}

func TestSaturateUint16(t *testing.T) {
	v, over := SaturateUint16(70000)
	assert.Equal(t, uint16(0xFFFF), v)
	assert.True(t, over)

	v, over = SaturateUint16(0xFFFF)
	assert.Equal(t, uint16(0xFFFF), v)
	assert.False(t, over)
}

func TestNarrowerOverflowIsSticky(t *testing.T) {
	var n Narrower

	assert.Equal(t, uint16(5), n.Uint16(5))
	assert.False(t, n.Overflowed)

	assert.Equal(t, uint32(math.MaxUint32), n.Uint32(math.MaxUint32+1))
	assert.True(t, n.Overflowed)

	assert.Equal(t, uint16(9), n.Uint16(9))
	assert.True(t, n.Overflowed)
}

func TestEndOfCentralDirectoryFrom64(t *testing.T) {
	rec, over := EndOfCentralDirectoryFrom64(&Zip64EndOfCentralDirectory{
		TotalEntries:      3,
		EntriesOnThisDisk: 3,
		DirectorySize:     150,
		DirectoryOffset:   1000,
	})
	assert.False(t, over)
	assert.Equal(t, EndOfCentralDirectory{
		EntriesOnThisDisk: 3,
		TotalEntries:      3,
		DirectorySize:     150,
		DirectoryOffset:   1000,
	}, rec)

	rec, over = EndOfCentralDirectoryFrom64(&Zip64EndOfCentralDirectory{
		TotalEntries:    70000,
		DirectoryOffset: 1000,
	})
	assert.True(t, over)
	assert.Equal(t, uint16(0xFFFF), rec.TotalEntries)
	assert.Equal(t, uint32(1000), rec.DirectoryOffset)
}

func TestCheckedConversions(t *testing.T) {
	v, err := CheckedUint32(123, "offset")
	require.NoError(t, err)
	assert.Equal(t, uint32(123), v)

	_, err = CheckedUint32(math.MaxUint32+1, "destination too large")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), "destination too large")
	assert.Contains(t, err.Error(), "4294967295")

	_, err = CheckedUint16(70000, "file name length")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = CheckedUint32(-1, "offset")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestErrorKinds(t *testing.T) {
	var ferr error = &FormatError{Structure: "local file header", Offset: 512}
	assert.ErrorIs(t, ferr, ErrFormat)
	assert.NotErrorIs(t, ferr, ErrUnsupported)
	assert.Equal(t, "zip: local file header at offset 512: signature not found", ferr.Error())

	wrapped := &FormatError{Structure: "central directory header", Offset: 9, Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, wrapped, ErrFormat)

	var target *FormatError
	require.ErrorAs(t, error(wrapped), &target)
	assert.Equal(t, int64(9), target.Offset)

	uerr := NewUnsupported("spanned archive")
	assert.ErrorIs(t, uerr, ErrUnsupported)
	assert.Equal(t, "zip: unsupported: spanned archive", uerr.Error())
}
