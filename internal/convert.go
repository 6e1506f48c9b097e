package internal

import (
	"math"

	"github.com/cockroachdb/errors"
)

var ErrIntOverflow = errors.New("value overflows int")

func Uint64ToInt(u uint64) (int, error) {
	if u > math.MaxInt {
		return 0, errors.WithStack(ErrIntOverflow)
	}
	return int(u), nil
}

// CloneBytes returns a copy of b; nil stays nil.
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
