package servercache

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedPayload = errors.New("malformed cache payload")

const (
	fieldIndexMD protowire.Number = 1
	fieldTxState protowire.Number = 2
)

// EncodePayload packs the index descriptor and transaction state pushed to
// the servers under one reference.
func EncodePayload(indexMD, txState []byte) []byte {
	var b []byte
	if len(indexMD) > 0 {
		b = protowire.AppendTag(b, fieldIndexMD, protowire.BytesType)
		b = protowire.AppendBytes(b, indexMD)
	}
	if len(txState) > 0 {
		b = protowire.AppendTag(b, fieldTxState, protowire.BytesType)
		b = protowire.AppendBytes(b, txState)
	}
	return b
}

func DecodePayload(b []byte) (indexMD, txState []byte, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, errors.Wrap(ErrMalformedPayload, protowire.ParseError(n).Error())
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return nil, nil, errors.Wrapf(ErrMalformedPayload, "field %d has wire type %d", num, typ)
		}
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, nil, errors.Wrap(ErrMalformedPayload, protowire.ParseError(m).Error())
		}
		b = b[m:]
		switch num {
		case fieldIndexMD:
			indexMD = v
		case fieldTxState:
			txState = v
		}
	}
	return indexMD, txState, nil
}
