// Package extrafield parses and re-serializes the extra field block carried by
// ZIP headers: a sequence of (id, length, data) records.
package extrafield

import (
	"encoding/binary"
	"io"

	"rpfix/pkg/zipstruct"
)

const headerLen = 4

// Well-known field IDs, used only for display.
const (
	Zip64ID             uint16 = 0x0001
	NTFSID              uint16 = 0x000a
	UnixID              uint16 = 0x000d
	ExtendedTimestampID uint16 = 0x5455
	InfoZipUnixID       uint16 = 0x7875
)

// Field is one extra field record.
type Field struct {
	ID   uint16
	Data []byte
}

// Size is the serialized size of f including its 4-byte header.
func (f Field) Size() int { return headerLen + len(f.Data) }

// Collection is the ordered list of fields from one header. Trailer holds bytes
// at the end of the block that do not form a complete record; they are written
// back unchanged.
type Collection struct {
	Fields  []Field
	Trailer []byte
}

// Parse splits b into fields. It never fails: a record whose declared length
// runs past the end of b starts the trailer.
func Parse(b []byte) Collection {
	var c Collection
	for len(b) >= headerLen {
		id := binary.LittleEndian.Uint16(b[0:])
		size := int(binary.LittleEndian.Uint16(b[2:]))
		if headerLen+size > len(b) {
			break
		}
		data := make([]byte, size)
		copy(data, b[headerLen:headerLen+size])
		c.Fields = append(c.Fields, Field{ID: id, Data: data})
		b = b[headerLen+size:]
	}
	if len(b) > 0 {
		c.Trailer = append([]byte(nil), b...)
	}
	return c
}

// Len returns the serialized size of the collection.
func (c Collection) Len() int {
	n := len(c.Trailer)
	for _, f := range c.Fields {
		n += f.Size()
	}
	return n
}

// LengthInBytes returns Len narrowed to 16 bits. The boolean reports whether
// the value was clamped.
func (c Collection) LengthInBytes() (uint16, bool) {
	return zipstruct.SaturateUint16(uint64(c.Len()))
}

// Get returns the first field with id.
func (c Collection) Get(id uint16) (Field, bool) {
	for _, f := range c.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// AppendTo appends the serialized collection to dst. It returns dst unchanged
// and an *zipstruct.UnsupportedError when the block does not fit the 16-bit
// length field of a ZIP header.
func (c Collection) AppendTo(dst []byte) ([]byte, error) {
	if _, err := zipstruct.CheckedUint16(c.Len(), "extra field length"); err != nil {
		return dst, err
	}
	// The block fits, so every field's data does too.
	for _, f := range c.Fields {
		dst = binary.LittleEndian.AppendUint16(dst, f.ID)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(f.Data)))
		dst = append(dst, f.Data...)
	}
	return append(dst, c.Trailer...), nil
}

// Bytes returns the serialized collection.
func (c Collection) Bytes() ([]byte, error) {
	return c.AppendTo(make([]byte, 0, c.Len()))
}

// WriteTo writes the serialized collection to w.
func (c Collection) WriteTo(w io.Writer) (int64, error) {
	b, err := c.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Name returns a display name for a field ID.
func Name(id uint16) string {
	switch id {
	case Zip64ID:
		return "zip64"
	case NTFSID:
		return "ntfs"
	case UnixID:
		return "unix"
	case ExtendedTimestampID:
		return "extended-timestamp"
	case InfoZipUnixID:
		return "infozip-unix"
	default:
		return "other"
	}
}
