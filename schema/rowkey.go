package schema

import (
	"github.com/cockroachdb/errors"
)

var ErrMalformedRowKey = errors.New("malformed row key")

const (
	escapeByte     byte = 0x00
	escapedZero    byte = 0xFF
	terminatorByte byte = 0x01
)

// EncodeRowKey joins parts into an order-preserving row key. A zero byte is
// written as 0x00 0xFF and every part ends with 0x00 0x01, so a shorter part
// sorts before any extension of it.
func EncodeRowKey(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p) + 2
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		for _, b := range p {
			if b == escapeByte {
				out = append(out, escapeByte, escapedZero)
				continue
			}
			out = append(out, b)
		}
		out = append(out, escapeByte, terminatorByte)
	}
	return out
}

func DecodeRowKey(key []byte) ([][]byte, error) {
	var parts [][]byte
	cur := []byte{}
	for i := 0; i < len(key); i++ {
		b := key[i]
		if b != escapeByte {
			cur = append(cur, b)
			continue
		}
		if i+1 >= len(key) {
			return nil, errors.Wrapf(ErrMalformedRowKey, "dangling escape at %d", i)
		}
		i++
		switch key[i] {
		case escapedZero:
			cur = append(cur, escapeByte)
		case terminatorByte:
			parts = append(parts, cur)
			cur = []byte{}
		default:
			return nil, errors.Wrapf(ErrMalformedRowKey, "bad escape 0x%x at %d", key[i], i)
		}
	}
	if len(cur) != 0 {
		return nil, errors.Wrap(ErrMalformedRowKey, "unterminated part")
	}
	return parts, nil
}
