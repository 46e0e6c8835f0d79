package bits

import "github.com/icza/bitio"

// WriteRaw stores v as an n-bit two's complement integer, most
// significant bit first.
func WriteRaw(bw *bitio.Writer, n uint8, v int64) error {
	mask := uint64(1)<<n - 1
	return bw.WriteBits(uint64(v)&mask, n)
}

// ReadRaw reads an n-bit two's complement integer and sign extends it to
// 64 bits.
func ReadRaw(br *bitio.Reader, n uint8) (int64, error) {
	x, err := br.ReadBits(n)
	if err != nil {
		return 0, err
	}
	return SignExtend(x, n), nil
}

// SignExtend interprets x as a signed n-bit integer value and sign
// extends it to 64 bits.
func SignExtend(x uint64, n uint8) int64 {
	// x is signed if its most significant bit is set.
	if x&(1<<(n-1)) != 0 {
		return int64(x | ^uint64(0)<<n)
	}
	return int64(x)
}

// FitsSigned reports whether v is representable as an n-bit two's
// complement integer.
func FitsSigned(v int64, n uint8) bool {
	lo := -(int64(1) << (n - 1))
	hi := int64(1)<<(n-1) - 1
	return lo <= v && v <= hi
}
