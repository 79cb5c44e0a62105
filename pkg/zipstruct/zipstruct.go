// Package zipstruct encodes and decodes the fixed-size ZIP records used when
// rebuilding an archive: the end of central directory record, the Zip64
// locator and record, central directory headers and local file headers.
//
// Every record is little-endian on disk. Fields are decoded in host byte
// order first and reversed afterwards when the host is big-endian, which
// keeps the byte-order step explicit instead of relying on memory layout.
package zipstruct

// Record signatures (PKZIP APPNOTE §4.3). Each is the little-endian reading
// of "PK" followed by two record-specific bytes.
const (
	LocalFileHeaderSignature                   uint32 = 0x04034b50
	CentralDirectoryHeaderSignature            uint32 = 0x02014b50
	EndOfCentralDirectorySignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirectorySignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirectoryLocatorSignature uint32 = 0x07064b50
)

// Fixed body sizes in bytes, excluding the 4-byte signature.
const (
	SignatureLen                         = 4
	EndOfCentralDirectoryLen             = 18
	Zip64EndOfCentralDirectoryLocatorLen = 16
	Zip64EndOfCentralDirectoryLen        = 52
	CentralDirectoryHeaderLen            = 42
	LocalFileHeaderLen                   = 26
)

// Compression methods the repairer knows how to re-validate.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
)

// Sentinel values signalling that the real value lives in a Zip64 record.
const (
	Zip64Marker16 = 0xffff
	Zip64Marker32 = 0xffffffff
)

// MethodName returns a short human-readable name for a compression method.
func MethodName(method uint16) string {
	switch method {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	case 9:
		return "deflate64"
	case 12:
		return "bzip2"
	case 14:
		return "lzma"
	case 93:
		return "zstd"
	case 95:
		return "xz"
	default:
		return "unknown"
	}
}
