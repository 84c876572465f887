package midi

import "fmt"

// MaxVLQ is the largest value a four byte variable-length quantity can hold.
const MaxVLQ = 0x0FFFFFFF

// maxVLQBytes is the longest quantity the file format allows.
const maxVLQBytes = 4

// EncodeVLQ encodes n as a MIDI variable-length quantity: 7-bit big-endian
// groups with the continuation bit set on every byte but the last.
func EncodeVLQ(n int) ([]byte, error) {
	if n < 0 || n > MaxVLQ {
		return nil, fmt.Errorf("encode vlq %d: %w", n, ErrInvalidInput)
	}
	return AppendVLQ(nil, uint32(n)), nil
}

// AppendVLQ appends the encoding of n to dst. Values above MaxVLQ are
// truncated to their low 28 bits.
func AppendVLQ(dst []byte, n uint32) []byte {
	n &= MaxVLQ
	var buf [maxVLQBytes]byte
	i := len(buf) - 1
	buf[i] = byte(n & 0x7F)
	for n >>= 7; n > 0; n >>= 7 {
		i--
		buf[i] = byte(n&0x7F) | 0x80
	}
	return append(dst, buf[i:]...)
}

// DecodeVLQ reads a variable-length quantity starting at offset. It returns
// the value and the number of bytes consumed.
func DecodeVLQ(buf []byte, offset int) (value, consumed int, err error) {
	if offset < 0 || offset > len(buf) {
		return 0, 0, fmt.Errorf("decode vlq at %d: %w", offset, ErrInvalidInput)
	}
	for i := offset; i < len(buf); i++ {
		consumed++
		if consumed > maxVLQBytes {
			return 0, 0, fmt.Errorf("decode vlq at %d: longer than %d bytes: %w", offset, maxVLQBytes, ErrInvalidInput)
		}
		b := buf[i]
		value = value<<7 | int(b&0x7F)
		if b&0x80 == 0 {
			return value, consumed, nil
		}
	}
	return 0, 0, fmt.Errorf("decode vlq at %d: %w", offset, ErrTruncatedData)
}
