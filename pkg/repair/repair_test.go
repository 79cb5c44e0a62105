package repair

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpfix/internal/testutil"
	"rpfix/pkg/centraldir"
	"rpfix/pkg/zipstruct"
)

const (
	centralMethodOffset = 10
	centralFlagsOffset  = 8
	localMethodOffset   = 8
	localFlagsOffset    = 6
)

func rebuild(t *testing.T, data []byte, opts Options) ([]byte, Result) {
	t.Helper()

	var out bytes.Buffer
	res, err := Rebuild(context.Background(), bytes.NewReader(data), &out, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(out.Len()), res.BytesWritten)
	return out.Bytes(), res
}

func TestRebuildStoredEntryWithZeroCRC(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"))
	testutil.CorruptEntry(t, data, "a.txt")

	out, res := rebuild(t, data, DefaultOptions())

	lfh := testutil.LocalHeaderAt(t, out, "a.txt")
	cdh := testutil.CentralHeaderAt(t, out, "a.txt")
	assert.Equal(t, uint32(0x352441C2), testutil.Uint32At(out, lfh+testutil.LocalCRCOffset))
	assert.Equal(t, uint32(3), testutil.Uint32At(out, lfh+testutil.LocalUncompressedSizeOffset))
	assert.Equal(t, uint32(0x352441C2), testutil.Uint32At(out, cdh+testutil.CentralCRCOffset))
	assert.Equal(t, uint32(3), testutil.Uint32At(out, cdh+testutil.CentralUncompressedSizeOffset))

	payloadStart := lfh + zipstruct.SignatureLen + zipstruct.LocalFileHeaderLen +
		int(binary.LittleEndian.Uint16(out[lfh+26:])) + int(binary.LittleEndian.Uint16(out[lfh+28:]))
	assert.Equal(t, "abc", string(out[payloadStart:payloadStart+3]))

	require.Len(t, res.Entries, 1)
	report := res.Entries[0]
	assert.Equal(t, "a.txt", report.Name)
	assert.True(t, report.Recomputed)
	assert.Zero(t, report.OldCRC)
	assert.Equal(t, uint32(0x352441C2), report.NewCRC)
	assert.True(t, report.Changed())
	assert.Equal(t, 1, res.Changed())

	assert.Equal(t, "abc", string(testutil.ReadEntries(t, out)["a.txt"]))
}

func TestRebuildDeflatedEntries(t *testing.T) {
	files := map[string]string{
		"pack.mcmeta":                         `{"pack":{"pack_format":15,"description":"test"}}`,
		"assets/minecraft/lang/en_us.json":    strings.Repeat(`{"key":"value"},`, 200),
		"assets/minecraft/textures/empty.png": "",
	}
	data := testutil.BuildArchive(t, "",
		testutil.Deflated("pack.mcmeta", files["pack.mcmeta"]),
		testutil.Deflated("assets/minecraft/lang/en_us.json", files["assets/minecraft/lang/en_us.json"]),
		testutil.Stored("assets/minecraft/textures/empty.png", files["assets/minecraft/textures/empty.png"]),
	)
	for name := range files {
		testutil.CorruptEntry(t, data, name)
	}

	out, res := rebuild(t, data, DefaultOptions())
	require.Len(t, res.Entries, 3)

	entries := testutil.ReadEntries(t, out)
	for name, content := range files {
		assert.Equal(t, content, string(entries[name]), name)

		want := crc32.ChecksumIEEE([]byte(content))
		lfh := testutil.LocalHeaderAt(t, out, name)
		cdh := testutil.CentralHeaderAt(t, out, name)
		assert.Equal(t, want, testutil.Uint32At(out, lfh+testutil.LocalCRCOffset), name)
		assert.Equal(t, want, testutil.Uint32At(out, cdh+testutil.CentralCRCOffset), name)
		assert.Equal(t, uint32(len(content)), testutil.Uint32At(out, cdh+testutil.CentralUncompressedSizeOffset), name)
	}
}

func TestRebuildFixesPrependedOffsets(t *testing.T) {
	names := []string{"a.txt", "b.txt", "c/d.txt"}
	data := testutil.BuildArchive(t, "",
		testutil.Stored(names[0], "first"),
		testutil.Deflated(names[1], strings.Repeat("second ", 50)),
		testutil.Stored(names[2], "third"),
	)
	shifted := testutil.Prepend(data, 123)

	out, res := rebuild(t, shifted, DefaultOptions())
	assert.Equal(t, int64(123), res.BaseOffset)

	for _, name := range names {
		cdh := testutil.CentralHeaderAt(t, out, name)
		got := testutil.Uint32At(out, cdh+testutil.CentralLocalHeaderOffset)
		assert.Equal(t, uint32(testutil.LocalHeaderAt(t, out, name)), got, name)
	}
	// Each dropped 16-byte data descriptor moves later entries back.
	for i, report := range res.Entries {
		assert.Equal(t, uint32(16*i), report.OldOffset-report.NewOffset, report.Name)
	}

	testutil.ReadEntries(t, out)
}

func TestRebuildIsFixedPoint(t *testing.T) {
	data := testutil.BuildArchive(t, "a comment",
		testutil.Stored("a.txt", "abc"),
		testutil.Deflated("b.txt", strings.Repeat("b", 1000)),
	)

	first, _ := rebuild(t, data, DefaultOptions())
	second, res := rebuild(t, first, DefaultOptions())

	assert.Equal(t, first, second)
	assert.Zero(t, res.Changed())
}

func TestRebuildPreservesComment(t *testing.T) {
	data := testutil.BuildArchive(t, "Made for 1.20", testutil.Stored("a.txt", "abc"))

	out, res := rebuild(t, data, DefaultOptions())
	assert.Equal(t, []byte("Made for 1.20"), res.Comment)
	assert.True(t, bytes.HasSuffix(out, []byte("Made for 1.20")))
}

func TestRebuildClearsDataDescriptorFlag(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Deflated("a.txt", "hello"))
	cdh := testutil.CentralHeaderAt(t, data, "a.txt")
	require.NotZero(t, binary.LittleEndian.Uint16(data[cdh+centralFlagsOffset:])&flagDataDescriptor)

	out, _ := rebuild(t, data, DefaultOptions())

	cdh = testutil.CentralHeaderAt(t, out, "a.txt")
	lfh := testutil.LocalHeaderAt(t, out, "a.txt")
	assert.Zero(t, binary.LittleEndian.Uint16(out[cdh+centralFlagsOffset:])&flagDataDescriptor)
	assert.Zero(t, binary.LittleEndian.Uint16(out[lfh+localFlagsOffset:])&flagDataDescriptor)
}

func TestRebuildSpannedArchive(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"))
	eocdAt := len(data) - 22
	binary.LittleEndian.PutUint16(data[eocdAt+4:], 1)

	_, err := Rebuild(context.Background(), bytes.NewReader(data), &bytes.Buffer{}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, zipstruct.ErrUnsupported)
	assert.Contains(t, err.Error(), "spanned archive")

	out, _ := rebuild(t, data, DefaultOptions())
	assert.Zero(t, binary.LittleEndian.Uint16(out[len(out)-22+4:]))
}

func TestRebuildSpannedEntry(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"))
	cdh := testutil.CentralHeaderAt(t, data, "a.txt")
	binary.LittleEndian.PutUint16(data[cdh+34:], 2)

	_, err := Rebuild(context.Background(), bytes.NewReader(data), &bytes.Buffer{}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, zipstruct.ErrUnsupported)

	out, _ := rebuild(t, data, DefaultOptions())
	cdh = testutil.CentralHeaderAt(t, out, "a.txt")
	assert.Zero(t, binary.LittleEndian.Uint16(out[cdh+34:]))
}

func TestRebuildPassesThroughUnknownMethod(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.bin", "opaque"), testutil.Stored("b.txt", "abc"))
	cdh := testutil.CentralHeaderAt(t, data, "a.bin")
	lfh := testutil.LocalHeaderAt(t, data, "a.bin")
	binary.LittleEndian.PutUint16(data[cdh+centralMethodOffset:], 12)
	binary.LittleEndian.PutUint16(data[lfh+localMethodOffset:], 12)
	testutil.PutUint32(data, cdh+testutil.CentralCRCOffset, 0x01020304)

	out, res := rebuild(t, data, DefaultOptions())
	require.Len(t, res.Entries, 2)
	assert.False(t, res.Entries[0].Recomputed)
	assert.Equal(t, uint32(0x01020304), res.Entries[0].NewCRC)
	assert.True(t, res.Entries[1].Recomputed)
	assert.Equal(t, 1, res.Passthrough())

	cdh = testutil.CentralHeaderAt(t, out, "a.bin")
	assert.Equal(t, uint32(0x01020304), testutil.Uint32At(out, cdh+testutil.CentralCRCOffset))
	assert.Contains(t, string(out), "opaque")
}

func TestRebuildMissingLocalHeader(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"))
	cdh := testutil.CentralHeaderAt(t, data, "a.txt")
	testutil.PutUint32(data, cdh+testutil.CentralLocalHeaderOffset, 5)

	_, err := Rebuild(context.Background(), bytes.NewReader(data), &bytes.Buffer{}, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, zipstruct.ErrFormat)

	var ferr *zipstruct.FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, int64(5), ferr.Offset)
	assert.Equal(t, "local file header", ferr.Structure)
}

func TestRebuildBadDirectorySignature(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"))
	cdh := testutil.CentralHeaderAt(t, data, "a.txt")
	data[cdh+2] = 'X'

	_, err := Rebuild(context.Background(), bytes.NewReader(data), &bytes.Buffer{}, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, zipstruct.ErrFormat)
	assert.Contains(t, err.Error(), "central directory header")
}

func TestRebuildNotAnArchive(t *testing.T) {
	_, err := Rebuild(context.Background(), strings.NewReader(strings.Repeat("x", 100)), &bytes.Buffer{}, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, zipstruct.ErrFormat)
}

func TestRebuildTruncatedDeflateStream(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Deflated("a.txt", strings.Repeat("abcdefgh", 100)))
	cdh := testutil.CentralHeaderAt(t, data, "a.txt")
	testutil.PutUint32(data, cdh+testutil.CentralCompressedSizeOffset, 1)

	_, err := Rebuild(context.Background(), bytes.NewReader(data), &bytes.Buffer{}, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, zipstruct.ErrFormat)
}

func TestRebuildHonoursCancellation(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"), testutil.Stored("b.txt", "def"))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	opts := DefaultOptions()
	opts.OnEntry = func(index, total int, report EntryReport) {
		calls++
		cancel()
	}

	res, err := Rebuild(ctx, bytes.NewReader(data), &bytes.Buffer{}, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
	assert.Len(t, res.Entries, 1)
}

func TestRebuildReportsProgress(t *testing.T) {
	data := testutil.BuildArchive(t, "",
		testutil.Stored("a.txt", "a"),
		testutil.Stored("b.txt", "b"),
		testutil.Stored("c.txt", "c"),
	)

	var seen []string
	opts := DefaultOptions()
	opts.OnEntry = func(index, total int, report EntryReport) {
		assert.Equal(t, 3, total)
		assert.Equal(t, len(seen), index)
		seen = append(seen, report.Name)
	}

	_, res := rebuild(t, data, opts)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, seen)
	assert.NotZero(t, res.DirectoryOffset)
	assert.NotZero(t, res.DirectorySize)
}

func TestRebuildTrailingData(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Stored("a.txt", "abc"))
	withTrailer := append(append([]byte(nil), data...), "trailer"...)

	_, err := Rebuild(context.Background(), bytes.NewReader(withTrailer), &bytes.Buffer{}, DefaultOptions())
	require.ErrorIs(t, err, zipstruct.ErrFormat)

	opts := DefaultOptions()
	opts.AllowTrailingData = true
	out, _ := rebuild(t, withTrailer, opts)
	assert.False(t, bytes.HasSuffix(out, []byte("trailer")))
}

func TestRecomputeEntry(t *testing.T) {
	data := testutil.BuildArchive(t, "", testutil.Deflated("a.txt", "hello, world"))
	testutil.CorruptEntry(t, data, "a.txt")

	r := bytes.NewReader(data)
	cdh := testutil.CentralHeaderAt(t, data, "a.txt")
	_, err := r.Seek(int64(cdh+zipstruct.SignatureLen), io.SeekStart)
	require.NoError(t, err)
	e, err := centraldir.ReadEntry(r)
	require.NoError(t, err)

	check, err := RecomputeEntry(r, e)
	require.NoError(t, err)
	assert.True(t, check.Recomputed)
	assert.Equal(t, crc32.ChecksumIEEE([]byte("hello, world")), check.CRC32)
	assert.Equal(t, uint32(12), check.UncompressedSize)
	assert.Zero(t, check.HeaderOffset)
	assert.Greater(t, check.DataOffset, int64(30))
	assert.Zero(t, e.Header.CRC32)
}

func TestCheckStream(t *testing.T) {
	crc, size, err := CheckStream(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x352441C2), crc)
	assert.Equal(t, uint32(3), size)

	big := bytes.Repeat([]byte{0xab}, 3*copyBufferSize+17)
	crc, size, err = CheckStream(bytes.NewReader(big))
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE(big), crc)
	assert.Equal(t, uint32(len(big)), size)

	boom := errors.New("boom")
	_, _, err = CheckStream(&failAfter{data: []byte("xy"), err: boom})
	assert.ErrorIs(t, err, boom)
}

type failAfter struct {
	data []byte
	err  error
}

func (f *failAfter) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestReadArchive(t *testing.T) {
	data := testutil.BuildArchive(t, "hello",
		testutil.Stored("a.txt", "abc"),
		testutil.Deflated("b.txt", "bbbbbbbb"),
	)
	data = testutil.Prepend(data, 10)

	archive, err := ReadArchive(bytes.NewReader(data), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, int64(10), archive.BaseOffset)
	assert.Equal(t, "hello", string(archive.End.Comment))
	assert.Equal(t, int64(testutil.CentralHeaderAt(t, data, "a.txt")), archive.DirectoryStart())
	require.Len(t, archive.Entries, 2)
	assert.Equal(t, "a.txt", string(archive.Entries[0].Name))
	assert.Equal(t, "b.txt", string(archive.Entries[1].Name))
}

func buildLayoutArchive(t *testing.T) []byte {
	t.Helper()
	return testutil.BuildArchive(t, "",
		testutil.Stored("pack.mcmeta", "abc"),
		testutil.Deflated("assets/minecraft/lang/en_us.json", strings.Repeat(`"k":"v",`, 32)),
	)
}

func TestReadArchiveEndRecordLayouts(t *testing.T) {
	tests := []struct {
		name     string
		data     func(t *testing.T) []byte
		base     int64
		hasZip64 bool
	}{
		{
			name:     "zip64 records with real values",
			data:     func(t *testing.T) []byte { return testutil.WithZip64Records(t, buildLayoutArchive(t)) },
			hasZip64: true,
		},
		{
			name:     "zip64 records with markers",
			data:     func(t *testing.T) []byte { return testutil.ToZip64(t, buildLayoutArchive(t), 1) },
			hasZip64: true,
		},
		{
			name: "gap before end record",
			data: func(t *testing.T) []byte { return testutil.InsertBeforeEnd(t, buildLayoutArchive(t), 8) },
		},
		{
			name: "gap before zip64 records",
			data: func(t *testing.T) []byte {
				return testutil.WithZip64Records(t, testutil.InsertBeforeEnd(t, buildLayoutArchive(t), 8))
			},
			hasZip64: true,
		},
		{
			name:     "prefixed zip64 with markers",
			data:     func(t *testing.T) []byte { return testutil.Prepend(testutil.ToZip64(t, buildLayoutArchive(t), 1), 10) },
			base:     10,
			hasZip64: true,
		},
		{
			name: "prefixed zip64 records with real values",
			data: func(t *testing.T) []byte {
				return testutil.Prepend(testutil.WithZip64Records(t, buildLayoutArchive(t)), 10)
			},
			base:     10,
			hasZip64: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.data(t)

			archive, err := ReadArchive(bytes.NewReader(data), DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tc.base, archive.BaseOffset)
			assert.Equal(t, tc.hasZip64, archive.End.Zip64 != nil)
			assert.Equal(t, int64(testutil.CentralHeaderAt(t, data, "pack.mcmeta")), archive.DirectoryStart())
			require.Len(t, archive.Entries, 2)
			assert.Equal(t, uint16(2), archive.Record.TotalEntries)

			out, res := rebuild(t, data, DefaultOptions())
			assert.Equal(t, tc.base, res.BaseOffset)
			entries := testutil.ReadEntries(t, out)
			assert.Equal(t, "abc", string(entries["pack.mcmeta"]))
			assert.Equal(t, strings.Repeat(`"k":"v",`, 32), string(entries["assets/minecraft/lang/en_us.json"]))
		})
	}
}
