package zipstruct

import (
	"fmt"
	"math/bits"
)

// EndOfCentralDirectory is the body of the end of central directory record.
// The variable-length comment follows it on disk and is not part of the record.
type EndOfCentralDirectory struct {
	DiskNumber        uint16
	StartDiskNumber   uint16
	EntriesOnThisDisk uint16
	TotalEntries      uint16
	DirectorySize     uint32
	DirectoryOffset   uint32
	CommentLength     uint16
}

func (r *EndOfCentralDirectory) Len() int { return EndOfCentralDirectoryLen }

func (r *EndOfCentralDirectory) DecodeFrom(b []byte) {
	buf := readBuf(b)
	r.DiskNumber = buf.uint16()
	r.StartDiskNumber = buf.uint16()
	r.EntriesOnThisDisk = buf.uint16()
	r.TotalEntries = buf.uint16()
	r.DirectorySize = buf.uint32()
	r.DirectoryOffset = buf.uint32()
	r.CommentLength = buf.uint16()
}

func (r *EndOfCentralDirectory) EncodeTo(b []byte) {
	buf := writeBuf(b)
	buf.uint16(r.DiskNumber)
	buf.uint16(r.StartDiskNumber)
	buf.uint16(r.EntriesOnThisDisk)
	buf.uint16(r.TotalEntries)
	buf.uint32(r.DirectorySize)
	buf.uint32(r.DirectoryOffset)
	buf.uint16(r.CommentLength)
}

func (r *EndOfCentralDirectory) ReverseEndianness() {
	r.DiskNumber = bits.ReverseBytes16(r.DiskNumber)
	r.StartDiskNumber = bits.ReverseBytes16(r.StartDiskNumber)
	r.EntriesOnThisDisk = bits.ReverseBytes16(r.EntriesOnThisDisk)
	r.TotalEntries = bits.ReverseBytes16(r.TotalEntries)
	r.DirectorySize = bits.ReverseBytes32(r.DirectorySize)
	r.DirectoryOffset = bits.ReverseBytes32(r.DirectoryOffset)
	r.CommentLength = bits.ReverseBytes16(r.CommentLength)
}

// RequiresZip64 reports whether any count, size or offset carries the
// sentinel that defers the real value to the Zip64 record.
func (r *EndOfCentralDirectory) RequiresZip64() bool {
	return r.EntriesOnThisDisk == Zip64Marker16 ||
		r.TotalEntries == Zip64Marker16 ||
		r.DirectorySize == Zip64Marker32 ||
		r.DirectoryOffset == Zip64Marker32
}

func (r EndOfCentralDirectory) String() string {
	return fmt.Sprintf(`DiskNumber       : %d
StartDiskNumber  : %d
EntriesOnThisDisk: %d
TotalEntries     : %d
DirectorySize    : %d
DirectoryOffset  : %d
CommentLength    : %d`,
		r.DiskNumber, r.StartDiskNumber, r.EntriesOnThisDisk, r.TotalEntries,
		r.DirectorySize, r.DirectoryOffset, r.CommentLength)
}

// Zip64EndOfCentralDirectoryLocator points at the Zip64 end of central
// directory record. When present it sits immediately before the 32-bit record.
type Zip64EndOfCentralDirectoryLocator struct {
	DiskNumber                  uint32
	EndOfCentralDirectoryOffset uint64
	TotalDisks                  uint32
}

func (r *Zip64EndOfCentralDirectoryLocator) Len() int {
	return Zip64EndOfCentralDirectoryLocatorLen
}

func (r *Zip64EndOfCentralDirectoryLocator) DecodeFrom(b []byte) {
	buf := readBuf(b)
	r.DiskNumber = buf.uint32()
	r.EndOfCentralDirectoryOffset = buf.uint64()
	r.TotalDisks = buf.uint32()
}

func (r *Zip64EndOfCentralDirectoryLocator) EncodeTo(b []byte) {
	buf := writeBuf(b)
	buf.uint32(r.DiskNumber)
	buf.uint64(r.EndOfCentralDirectoryOffset)
	buf.uint32(r.TotalDisks)
}

func (r *Zip64EndOfCentralDirectoryLocator) ReverseEndianness() {
	r.DiskNumber = bits.ReverseBytes32(r.DiskNumber)
	r.EndOfCentralDirectoryOffset = bits.ReverseBytes64(r.EndOfCentralDirectoryOffset)
	r.TotalDisks = bits.ReverseBytes32(r.TotalDisks)
}

func (r Zip64EndOfCentralDirectoryLocator) String() string {
	return fmt.Sprintf(`DiskNumber       : %d
Zip64EOCDOffset  : %d
TotalDisks       : %d`,
		r.DiskNumber, r.EndOfCentralDirectoryOffset, r.TotalDisks)
}

// Zip64EndOfCentralDirectory is the fixed part of the Zip64 end of central
// directory record. Any extensible data sector that follows is ignored.
type Zip64EndOfCentralDirectory struct {
	RecordSize        uint64
	VersionMadeBy     uint16
	VersionNeeded     uint16
	DiskNumber        uint32
	StartDiskNumber   uint32
	EntriesOnThisDisk uint64
	TotalEntries      uint64
	DirectorySize     uint64
	DirectoryOffset   uint64
}

func (r *Zip64EndOfCentralDirectory) Len() int { return Zip64EndOfCentralDirectoryLen }

func (r *Zip64EndOfCentralDirectory) DecodeFrom(b []byte) {
	buf := readBuf(b)
	r.RecordSize = buf.uint64()
	r.VersionMadeBy = buf.uint16()
	r.VersionNeeded = buf.uint16()
	r.DiskNumber = buf.uint32()
	r.StartDiskNumber = buf.uint32()
	r.EntriesOnThisDisk = buf.uint64()
	r.TotalEntries = buf.uint64()
	r.DirectorySize = buf.uint64()
	r.DirectoryOffset = buf.uint64()
}

func (r *Zip64EndOfCentralDirectory) EncodeTo(b []byte) {
	buf := writeBuf(b)
	buf.uint64(r.RecordSize)
	buf.uint16(r.VersionMadeBy)
	buf.uint16(r.VersionNeeded)
	buf.uint32(r.DiskNumber)
	buf.uint32(r.StartDiskNumber)
	buf.uint64(r.EntriesOnThisDisk)
	buf.uint64(r.TotalEntries)
	buf.uint64(r.DirectorySize)
	buf.uint64(r.DirectoryOffset)
}

func (r *Zip64EndOfCentralDirectory) ReverseEndianness() {
	r.RecordSize = bits.ReverseBytes64(r.RecordSize)
	r.VersionMadeBy = bits.ReverseBytes16(r.VersionMadeBy)
	r.VersionNeeded = bits.ReverseBytes16(r.VersionNeeded)
	r.DiskNumber = bits.ReverseBytes32(r.DiskNumber)
	r.StartDiskNumber = bits.ReverseBytes32(r.StartDiskNumber)
	r.EntriesOnThisDisk = bits.ReverseBytes64(r.EntriesOnThisDisk)
	r.TotalEntries = bits.ReverseBytes64(r.TotalEntries)
	r.DirectorySize = bits.ReverseBytes64(r.DirectorySize)
	r.DirectoryOffset = bits.ReverseBytes64(r.DirectoryOffset)
}

// CentralDirectoryHeader is the fixed part of a central directory entry.
type CentralDirectoryHeader struct {
	VersionMadeBy      uint16
	VersionNeeded      uint16
	Flags              uint16
	CompressionMethod  uint16
	ModTime            uint16
	ModDate            uint16
	CRC32              uint32
	CompressedSize     uint32
	UncompressedSize   uint32
	FileNameLength     uint16
	ExtraFieldLength   uint16
	CommentLength      uint16
	StartDiskNumber    uint16
	InternalAttributes uint16
	ExternalAttributes uint32
	LocalHeaderOffset  uint32
}

func (r *CentralDirectoryHeader) Len() int { return CentralDirectoryHeaderLen }

func (r *CentralDirectoryHeader) DecodeFrom(b []byte) {
	buf := readBuf(b)
	r.VersionMadeBy = buf.uint16()
	r.VersionNeeded = buf.uint16()
	r.Flags = buf.uint16()
	r.CompressionMethod = buf.uint16()
	r.ModTime = buf.uint16()
	r.ModDate = buf.uint16()
	r.CRC32 = buf.uint32()
	r.CompressedSize = buf.uint32()
	r.UncompressedSize = buf.uint32()
	r.FileNameLength = buf.uint16()
	r.ExtraFieldLength = buf.uint16()
	r.CommentLength = buf.uint16()
	r.StartDiskNumber = buf.uint16()
	r.InternalAttributes = buf.uint16()
	r.ExternalAttributes = buf.uint32()
	r.LocalHeaderOffset = buf.uint32()
}

func (r *CentralDirectoryHeader) EncodeTo(b []byte) {
	buf := writeBuf(b)
	buf.uint16(r.VersionMadeBy)
	buf.uint16(r.VersionNeeded)
	buf.uint16(r.Flags)
	buf.uint16(r.CompressionMethod)
	buf.uint16(r.ModTime)
	buf.uint16(r.ModDate)
	buf.uint32(r.CRC32)
	buf.uint32(r.CompressedSize)
	buf.uint32(r.UncompressedSize)
	buf.uint16(r.FileNameLength)
	buf.uint16(r.ExtraFieldLength)
	buf.uint16(r.CommentLength)
	buf.uint16(r.StartDiskNumber)
	buf.uint16(r.InternalAttributes)
	buf.uint32(r.ExternalAttributes)
	buf.uint32(r.LocalHeaderOffset)
}

func (r *CentralDirectoryHeader) ReverseEndianness() {
	r.VersionMadeBy = bits.ReverseBytes16(r.VersionMadeBy)
	r.VersionNeeded = bits.ReverseBytes16(r.VersionNeeded)
	r.Flags = bits.ReverseBytes16(r.Flags)
	r.CompressionMethod = bits.ReverseBytes16(r.CompressionMethod)
	r.ModTime = bits.ReverseBytes16(r.ModTime)
	r.ModDate = bits.ReverseBytes16(r.ModDate)
	r.CRC32 = bits.ReverseBytes32(r.CRC32)
	r.CompressedSize = bits.ReverseBytes32(r.CompressedSize)
	r.UncompressedSize = bits.ReverseBytes32(r.UncompressedSize)
	r.FileNameLength = bits.ReverseBytes16(r.FileNameLength)
	r.ExtraFieldLength = bits.ReverseBytes16(r.ExtraFieldLength)
	r.CommentLength = bits.ReverseBytes16(r.CommentLength)
	r.StartDiskNumber = bits.ReverseBytes16(r.StartDiskNumber)
	r.InternalAttributes = bits.ReverseBytes16(r.InternalAttributes)
	r.ExternalAttributes = bits.ReverseBytes32(r.ExternalAttributes)
	r.LocalHeaderOffset = bits.ReverseBytes32(r.LocalHeaderOffset)
}

// LocalFileHeader is the fixed part of a local file header.
type LocalFileHeader struct {
	VersionNeeded     uint16
	Flags             uint16
	CompressionMethod uint16
	ModTime           uint16
	ModDate           uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	FileNameLength    uint16
	ExtraFieldLength  uint16
}

// LocalFileHeaderFrom derives the local header that must accompany h.
func LocalFileHeaderFrom(h CentralDirectoryHeader) LocalFileHeader {
	return LocalFileHeader{
		VersionNeeded:     h.VersionNeeded,
		Flags:             h.Flags,
		CompressionMethod: h.CompressionMethod,
		ModTime:           h.ModTime,
		ModDate:           h.ModDate,
		CRC32:             h.CRC32,
		CompressedSize:    h.CompressedSize,
		UncompressedSize:  h.UncompressedSize,
		FileNameLength:    h.FileNameLength,
		ExtraFieldLength:  h.ExtraFieldLength,
	}
}

func (r *LocalFileHeader) Len() int { return LocalFileHeaderLen }

func (r *LocalFileHeader) DecodeFrom(b []byte) {
	buf := readBuf(b)
	r.VersionNeeded = buf.uint16()
	r.Flags = buf.uint16()
	r.CompressionMethod = buf.uint16()
	r.ModTime = buf.uint16()
	r.ModDate = buf.uint16()
	r.CRC32 = buf.uint32()
	r.CompressedSize = buf.uint32()
	r.UncompressedSize = buf.uint32()
	r.FileNameLength = buf.uint16()
	r.ExtraFieldLength = buf.uint16()
}

func (r *LocalFileHeader) EncodeTo(b []byte) {
	buf := writeBuf(b)
	buf.uint16(r.VersionNeeded)
	buf.uint16(r.Flags)
	buf.uint16(r.CompressionMethod)
	buf.uint16(r.ModTime)
	buf.uint16(r.ModDate)
	buf.uint32(r.CRC32)
	buf.uint32(r.CompressedSize)
	buf.uint32(r.UncompressedSize)
	buf.uint16(r.FileNameLength)
	buf.uint16(r.ExtraFieldLength)
}

func (r *LocalFileHeader) ReverseEndianness() {
	r.VersionNeeded = bits.ReverseBytes16(r.VersionNeeded)
	r.Flags = bits.ReverseBytes16(r.Flags)
	r.CompressionMethod = bits.ReverseBytes16(r.CompressionMethod)
	r.ModTime = bits.ReverseBytes16(r.ModTime)
	r.ModDate = bits.ReverseBytes16(r.ModDate)
	r.CRC32 = bits.ReverseBytes32(r.CRC32)
	r.CompressedSize = bits.ReverseBytes32(r.CompressedSize)
	r.UncompressedSize = bits.ReverseBytes32(r.UncompressedSize)
	r.FileNameLength = bits.ReverseBytes16(r.FileNameLength)
	r.ExtraFieldLength = bits.ReverseBytes16(r.ExtraFieldLength)
}
