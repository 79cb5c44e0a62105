package zipstruct

import "math"

// SaturateUint16 narrows v, clamping to math.MaxUint16. The boolean reports
// whether clamping happened.
func SaturateUint16(v uint64) (uint16, bool) {
	if v > math.MaxUint16 {
		return math.MaxUint16, true
	}
	return uint16(v), false
}

// SaturateUint32 narrows v, clamping to math.MaxUint32. The boolean reports
// whether clamping happened.
func SaturateUint32(v uint64) (uint32, bool) {
	if v > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(v), false
}

// Narrower applies a sequence of saturating conversions and remembers whether
// any of them clamped. Overflowed is never cleared by a later conversion.
type Narrower struct {
	Overflowed bool
}

func (n *Narrower) Uint16(v uint64) uint16 {
	out, over := SaturateUint16(v)
	n.Overflowed = n.Overflowed || over
	return out
}

func (n *Narrower) Uint32(v uint64) uint32 {
	out, over := SaturateUint32(v)
	n.Overflowed = n.Overflowed || over
	return out
}

// EndOfCentralDirectoryFrom64 builds the 32-bit record equivalent to z. The
// boolean reports whether any field had to be clamped. The comment length is
// left at zero for the caller to fill.
func EndOfCentralDirectoryFrom64(z *Zip64EndOfCentralDirectory) (EndOfCentralDirectory, bool) {
	var n Narrower
	rec := EndOfCentralDirectory{
		DiskNumber:        n.Uint16(uint64(z.DiskNumber)),
		StartDiskNumber:   n.Uint16(uint64(z.StartDiskNumber)),
		EntriesOnThisDisk: n.Uint16(z.EntriesOnThisDisk),
		TotalEntries:      n.Uint16(z.TotalEntries),
		DirectorySize:     n.Uint32(z.DirectorySize),
		DirectoryOffset:   n.Uint32(z.DirectoryOffset),
	}
	return rec, n.Overflowed
}

// CheckedUint32 converts a non-negative position or length to uint32, or
// fails with an unsupported error naming what did not fit.
func CheckedUint32(value int64, what string) (uint32, error) {
	if value < 0 {
		return 0, &UnsupportedError{Reason: what + " is negative"}
	}
	out, over := SaturateUint32(uint64(value))
	if over {
		return 0, &UnsupportedError{Reason: what, Value: uint64(value), Limit: math.MaxUint32}
	}
	return out, nil
}

// CheckedUint16 is CheckedUint32 for 16-bit fields.
func CheckedUint16(value int, what string) (uint16, error) {
	if value < 0 {
		return 0, &UnsupportedError{Reason: what + " is negative"}
	}
	out, over := SaturateUint16(uint64(value))
	if over {
		return 0, &UnsupportedError{Reason: what, Value: uint64(value), Limit: math.MaxUint16}
	}
	return out, nil
}
