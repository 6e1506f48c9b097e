package txn

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/bootjp/elasticsql/internal"
	"github.com/cockroachdb/errors"
)

const txStateVersion byte = 1

// Transaction is a snapshot handle. Writes are stamped with WritePointer;
// reads see versions up to ReadPointer except those of InProgress
// transactions.
type Transaction struct {
	ID           uint64
	ReadPointer  uint64
	WritePointer uint64
	InProgress   []uint64
}

// Visible reports whether a version written at ts belongs to the snapshot.
func (t *Transaction) Visible(ts uint64) bool {
	if ts == t.WritePointer {
		return true
	}
	if ts > t.ReadPointer {
		return false
	}
	_, found := slices.BinarySearch(t.InProgress, ts)
	return !found
}

// EncodeState serializes tx for the transaction state attribute.
func EncodeState(tx *Transaction) []byte {
	var buf bytes.Buffer
	buf.WriteByte(txStateVersion)
	_ = binary.Write(&buf, binary.BigEndian, tx.ID)
	_ = binary.Write(&buf, binary.BigEndian, tx.ReadPointer)
	_ = binary.Write(&buf, binary.BigEndian, tx.WritePointer)
	_ = binary.Write(&buf, binary.BigEndian, uint64(len(tx.InProgress)))
	for _, id := range tx.InProgress {
		_ = binary.Write(&buf, binary.BigEndian, id)
	}
	return buf.Bytes()
}

func DecodeState(b []byte) (*Transaction, error) {
	if len(b) < 1 {
		return nil, errors.New("tx state: empty")
	}
	if b[0] != txStateVersion {
		return nil, errors.WithStack(errors.Newf("tx state: unsupported version %d", b[0]))
	}
	r := bytes.NewReader(b[1:])
	tx := &Transaction{}
	var n uint64
	for _, dst := range []*uint64{&tx.ID, &tx.ReadPointer, &tx.WritePointer, &n} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	count, err := internal.Uint64ToInt(n)
	if err != nil {
		return nil, err
	}
	if count > r.Len()/8 {
		return nil, errors.WithStack(ErrInvalidTransactionLen)
	}
	if count > 0 {
		tx.InProgress = make([]uint64, count)
		if err := binary.Read(r, binary.BigEndian, tx.InProgress); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return tx, nil
}
