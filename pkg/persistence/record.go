package persistence

import (
	"encoding/binary"
	"fmt"
)

// Op identifies the mutation a frame carries.
type Op byte

const (
	OpPutEntity           Op = 0x01
	OpDeleteEntity        Op = 0x02
	OpPutRelationship     Op = 0x03
	OpDeleteRelationships Op = 0x04
)

func (op Op) String() string {
	switch op {
	case OpPutEntity:
		return "put_entity"
	case OpDeleteEntity:
		return "delete_entity"
	case OpPutRelationship:
		return "put_relationship"
	case OpDeleteRelationships:
		return "delete_relationships"
	default:
		return fmt.Sprintf("op(0x%02x)", byte(op))
	}
}

func (op Op) valid() bool {
	return op >= OpPutEntity && op <= OpDeleteRelationships
}

// Record is one logged mutation. Key addresses the affected entity; Value is
// the op-specific body, opaque to this package.
type Record struct {
	Op    Op
	Key   []byte
	Value []byte
}

// EncodeRecord lays out the frame payload: uvarint(len(Key)) Key Value.
func EncodeRecord(rec Record) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(rec.Key)+len(rec.Value))
	buf = binary.AppendUvarint(buf, uint64(len(rec.Key)))
	buf = append(buf, rec.Key...)
	return append(buf, rec.Value...)
}

// DecodeRecord is the inverse of EncodeRecord. Key and Value alias payload.
func DecodeRecord(op Op, payload []byte) (Record, error) {
	if !op.valid() {
		return Record{}, fmt.Errorf("decode record: unknown %s", op)
	}
	keyLen, n := binary.Uvarint(payload)
	if n <= 0 || uint64(len(payload)-n) < keyLen {
		return Record{}, fmt.Errorf("decode %s record: malformed key length", op)
	}
	key := payload[n : n+int(keyLen)]
	return Record{Op: op, Key: key, Value: payload[n+int(keyLen):]}, nil
}
