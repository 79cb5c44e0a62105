package repair

import (
	"hash/crc32"
	"io"
	"sync"

	"rpfix/pkg/zipstruct"
)

const copyBufferSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, copyBufferSize)
		return &buf
	},
}

func getBuffer() *[]byte { return bufferPool.Get().(*[]byte) }

func putBuffer(buf *[]byte) { bufferPool.Put(buf) }

// CheckStream reads r to the end and returns the CRC-32 (IEEE) of everything
// read and its length. Lengths beyond 4 GiB saturate at math.MaxUint32.
func CheckStream(r io.Reader) (crc uint32, size uint32, err error) {
	bufPtr := getBuffer()
	defer putBuffer(bufPtr)
	buf := *bufPtr

	h := crc32.NewIEEE()
	var total uint64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
			total += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, 0, rerr
		}
	}

	size, _ = zipstruct.SaturateUint32(total)
	return h.Sum32(), size, nil
}
