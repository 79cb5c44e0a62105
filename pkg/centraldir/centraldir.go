// Package centraldir models one central directory entry: the fixed header
// plus its file name, extra fields and comment.
package centraldir

import (
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"rpfix/pkg/extrafield"
	"rpfix/pkg/zipstruct"
)

// Entry is a decoded central directory entry. Name and Comment are raw bytes;
// their encoding is not interpreted.
type Entry struct {
	Header  zipstruct.CentralDirectoryHeader
	Name    []byte
	Extra   extrafield.Collection
	Comment []byte
}

// ReadEntry decodes one entry from r, which must be positioned just after
// the entry's signature.
func ReadEntry(r io.Reader) (*Entry, error) {
	e := &Entry{}
	if err := zipstruct.ReadExactly(r, &e.Header); err != nil {
		return nil, fmt.Errorf("read central directory header: %w", err)
	}

	name, err := readN(r, int(e.Header.FileNameLength))
	if err != nil {
		return nil, fmt.Errorf("read file name: %w", err)
	}
	extra, err := readN(r, int(e.Header.ExtraFieldLength))
	if err != nil {
		return nil, fmt.Errorf("read extra field: %w", err)
	}
	comment, err := readN(r, int(e.Header.CommentLength))
	if err != nil {
		return nil, fmt.Errorf("read file comment: %w", err)
	}

	e.Name = name
	e.Extra = extrafield.Parse(extra)
	e.Comment = comment
	return e, nil
}

func readN(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}

// ApplyChanges recomputes the three length fields from Name, Extra and
// Comment. It fails when any of them cannot be represented in 16 bits.
func (e *Entry) ApplyChanges() error {
	nameLen, err := zipstruct.CheckedUint16(len(e.Name), "file name length")
	if err != nil {
		return err
	}
	extraLen, over := e.Extra.LengthInBytes()
	if over {
		return &zipstruct.UnsupportedError{
			Reason: "extra field length",
			Value:  uint64(e.Extra.Len()),
			Limit:  0xFFFF,
		}
	}
	commentLen, err := zipstruct.CheckedUint16(len(e.Comment), "file comment length")
	if err != nil {
		return err
	}

	e.Header.FileNameLength = nameLen
	e.Header.ExtraFieldLength = extraLen
	e.Header.CommentLength = commentLen
	return nil
}

// Size is the serialized size of the entry including its signature.
func (e *Entry) Size() int {
	return zipstruct.SignatureLen + zipstruct.CentralDirectoryHeaderLen +
		len(e.Name) + e.Extra.Len() + len(e.Comment)
}

// LocalHeader returns the local file header matching the entry.
func (e *Entry) LocalHeader() zipstruct.LocalFileHeader {
	return zipstruct.LocalFileHeaderFrom(e.Header)
}

// NameExtra returns the name bytes followed by the serialized extra fields, the
// variable part shared by the central and local headers.
func (e *Entry) NameExtra() ([]byte, error) {
	b := make([]byte, 0, len(e.Name)+e.Extra.Len())
	b = append(b, e.Name...)
	return e.Extra.AppendTo(b)
}

// WriteTo applies pending length changes and writes the entry, signature
// included, in a single call to w.
func (e *Entry) WriteTo(w io.Writer) (int64, error) {
	if err := e.ApplyChanges(); err != nil {
		return 0, err
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var header [zipstruct.CentralDirectoryHeaderLen]byte
	zipstruct.EncodeInto(&e.Header, header[:])

	_, _ = buf.Write(zipstruct.SignatureBytes(zipstruct.CentralDirectoryHeaderSignature))
	_, _ = buf.Write(header[:])
	_, _ = buf.Write(e.Name)
	b, err := e.Extra.AppendTo(buf.B)
	if err != nil {
		return 0, err
	}
	buf.B = b
	_, _ = buf.Write(e.Comment)

	return buf.WriteTo(w)
}

// String renders the entry as one line for diagnostics.
func (e *Entry) String() string {
	h := e.Header
	return fmt.Sprintf("%-40s method=%-8s crc=%08x csize=%d usize=%d offset=%d",
		string(e.Name), zipstruct.MethodName(h.CompressionMethod), h.CRC32,
		h.CompressedSize, h.UncompressedSize, h.LocalHeaderOffset)
}
