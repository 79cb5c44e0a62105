package zipstruct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HostBigEndian reports whether the running host stores multi-byte integers
// most significant byte first.
var HostBigEndian = binary.NativeEndian.Uint16([]byte{0x12, 0x34}) == 0x1234

// Record is a fixed-size ZIP structure without its signature.
//
// DecodeFrom and EncodeTo move fields between b and the record in host byte
// order. ReverseEndianness swaps every multi-byte field; the package helpers
// call it only on big-endian hosts so the on-disk form stays little-endian.
type Record interface {
	Len() int
	DecodeFrom(b []byte)
	EncodeTo(b []byte)
	ReverseEndianness()
}

// Decode fills rec from b, which must hold at least rec.Len() bytes.
func Decode(rec Record, b []byte) {
	rec.DecodeFrom(b[:rec.Len()])
	if HostBigEndian {
		rec.ReverseEndianness()
	}
}

// Encode returns the little-endian encoding of rec.
func Encode(rec Record) []byte {
	b := make([]byte, rec.Len())
	EncodeInto(rec, b)
	return b
}

// EncodeInto writes the little-endian encoding of rec into b.
// rec is reversed in place and restored before returning on big-endian hosts.
func EncodeInto(rec Record, b []byte) {
	if HostBigEndian {
		rec.ReverseEndianness()
		defer rec.ReverseEndianness()
	}
	rec.EncodeTo(b[:rec.Len()])
}

// TryRead decodes rec from r. It reports false without an error when r ends
// before a full record is available, for structures whose presence is not
// yet known.
func TryRead(r io.Reader, rec Record) (bool, error) {
	buf := make([]byte, rec.Len())
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}

	Decode(rec, buf)
	return true, nil
}

// ReadExactly decodes rec from r and fails on short input. It is used once
// a record's signature has confirmed it is present.
func ReadExactly(r io.Reader, rec Record) error {
	buf := make([]byte, rec.Len())
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read %d-byte record: %w", rec.Len(), err)
	}

	Decode(rec, buf)
	return nil
}

// Write encodes rec to w.
func Write(w io.Writer, rec Record) error {
	_, err := w.Write(Encode(rec))
	return err
}

// SignatureBytes returns the on-disk bytes of sig.
func SignatureBytes(sig uint32) []byte {
	b := make([]byte, SignatureLen)
	binary.LittleEndian.PutUint32(b, sig)
	return b
}

// WriteSignature writes the 4-byte signature sig to w.
func WriteSignature(w io.Writer, sig uint32) error {
	_, err := w.Write(SignatureBytes(sig))
	return err
}

// HasSignature consumes four bytes from r and reports whether they equal sig.
// A stream that ends early reports false without an error.
func HasSignature(r io.Reader, sig uint32) (bool, error) {
	var buf [SignatureLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}

	return binary.LittleEndian.Uint32(buf[:]) == sig, nil
}

// readBuf walks a byte slice in host byte order.
type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := binary.NativeEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.NativeEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.NativeEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

// writeBuf fills a byte slice in host byte order.
type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.NativeEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.NativeEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.NativeEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}
