package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tickmatch/engine/pkg/core"
)

// Errors
var (
	// ErrNoData means the tail of the journal holds no complete frame
	// yet. The caller decides how to idle before retrying.
	ErrNoData = errors.New("no data available")

	// ErrCorruptRecord means a frame failed its CRC or a payload did
	// not decode. The cursor has already advanced past the frame.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrInvalidRecord means a record failed validation on encode. The
	// journal was not advanced.
	ErrInvalidRecord = errors.New("invalid record")
)

// RecordKind discriminates journal record payloads.
type RecordKind uint8

// Record kinds. Consumers skip kinds they do not recognize.
const (
	KindSubmit RecordKind = 1
	KindCancel RecordKind = 2
)

// Record is one journal entry: an order submission or a cancel
// request. Price and Quantity are meaningful only for KindSubmit.
type Record struct {
	Kind     RecordKind
	OrderID  string
	Side     core.Side
	Price    int64
	Quantity int64
}

// Payload layout, little endian:
//
//	kind uint8 | side uint8 | price int64 | quantity int64 | idLen uint16 | id
const recordFixedSize = 1 + 1 + 8 + 8 + 2

// validate checks the fields a record must carry before it may be
// appended.
func (r *Record) validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: empty order id", ErrInvalidRecord)
	}
	if len(r.OrderID) > math.MaxUint16 {
		return fmt.Errorf("%w: order id longer than %d bytes", ErrInvalidRecord, math.MaxUint16)
	}
	switch r.Kind {
	case KindSubmit:
		if r.Side != core.Buy && r.Side != core.Sell {
			return fmt.Errorf("%w: side %d", ErrInvalidRecord, r.Side)
		}
		if r.Price <= 0 {
			return fmt.Errorf("%w: price %d", ErrInvalidRecord, r.Price)
		}
		if r.Quantity <= 0 {
			return fmt.Errorf("%w: quantity %d", ErrInvalidRecord, r.Quantity)
		}
	case KindCancel:
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidRecord, r.Kind)
	}
	return nil
}

// encode serializes the record payload. The frame header (length and
// CRC) is added by the appender.
func (r *Record) encode() ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, recordFixedSize+len(r.OrderID))
	buf[0] = byte(r.Kind)
	buf[1] = byte(r.Side)
	binary.LittleEndian.PutUint64(buf[2:], uint64(r.Price))
	binary.LittleEndian.PutUint64(buf[10:], uint64(r.Quantity))
	binary.LittleEndian.PutUint16(buf[18:], uint16(len(r.OrderID)))
	copy(buf[recordFixedSize:], r.OrderID)
	return buf, nil
}

// decodeRecord parses a payload back into a Record. Unknown kinds are
// returned as-is so consumers can skip them with a warning; a payload
// whose shape is wrong is a corrupt record.
func decodeRecord(payload []byte) (*Record, error) {
	if len(payload) < recordFixedSize {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrCorruptRecord, len(payload))
	}

	idLen := int(binary.LittleEndian.Uint16(payload[18:]))
	if len(payload) != recordFixedSize+idLen {
		return nil, fmt.Errorf("%w: id length %d does not match payload", ErrCorruptRecord, idLen)
	}

	return &Record{
		Kind:     RecordKind(payload[0]),
		Side:     core.Side(payload[1]),
		Price:    int64(binary.LittleEndian.Uint64(payload[2:])),
		Quantity: int64(binary.LittleEndian.Uint64(payload[10:])),
		OrderID:  string(payload[recordFixedSize:]),
	}, nil
}
