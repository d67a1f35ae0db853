package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// Cursor is the single consumer end of the journal. It yields records
// in append order, reading sealed segments first and then tailing the
// active one, following rotations as they happen. Reads are positioned
// (ReadAt) so a frame the producer has not finished flushing is simply
// not there yet; Next reports that as ErrNoData and the caller retries
// after idling. Not safe for concurrent use.
type Cursor struct {
	dir        string
	file       *os.File
	offset     int64
	segID      int
	active     bool
	lastSealed int
}

// OpenCursor positions a cursor at the head of the journal. The
// directory does not need to exist yet; Next returns ErrNoData until a
// producer creates it.
func OpenCursor(dir string) (*Cursor, error) {
	if dir == "" {
		return nil, errors.New("journal: dir is required")
	}
	return &Cursor{dir: dir}, nil
}

// Next returns the next record. ErrNoData means the tail is caught up;
// ErrCorruptRecord means a frame was unreadable and has been skipped,
// so the caller can log and call Next again. Any other error is an I/O
// failure.
func (c *Cursor) Next() (*Record, error) {
	for {
		if c.file == nil {
			ok, err := c.openNext()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrNoData
			}
		}

		var header [frameHeaderSize]byte
		n, err := c.file.ReadAt(header[:], c.offset)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("journal: read header: %w", err)
		}
		if n < frameHeaderSize {
			if done, err := c.atEnd(); err != nil {
				return nil, err
			} else if done {
				continue
			}
			return nil, ErrNoData
		}

		payloadLen := int64(binary.LittleEndian.Uint32(header[:4]))
		payload := make([]byte, payloadLen)
		n, err = c.file.ReadAt(payload, c.offset+frameHeaderSize)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("journal: read payload: %w", err)
		}
		if int64(n) < payloadLen {
			// Header visible but payload not fully flushed yet.
			if c.active {
				return nil, ErrNoData
			}
			return nil, fmt.Errorf("journal: truncated frame in sealed segment %06d", c.segID)
		}

		c.offset += frameHeaderSize + payloadLen

		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			return nil, fmt.Errorf("%w: crc mismatch at offset %d", ErrCorruptRecord, c.offset-frameHeaderSize-payloadLen)
		}

		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// Close releases the current segment handle. Safe to call more than
// once.
func (c *Cursor) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// openNext opens the next unread segment: the lowest sealed segment
// beyond the last one consumed, or the active segment. Returns false
// when there is nothing to open yet.
func (c *Cursor) openNext() (bool, error) {
	sealed, err := c.sealedAfter()
	if err != nil {
		return false, err
	}
	if sealed > 0 {
		return true, c.open(segmentName(sealed), sealed, false)
	}

	f, err := os.Open(filepath.Join(c.dir, activeSegment))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("journal: open segment: %w", err)
	}

	// The active segment may have been sealed between the directory
	// scan and the open, in which case the handle points at the new,
	// possibly empty file while unread records sit in the sealed one.
	sealed, err = c.sealedAfter()
	if err != nil {
		f.Close()
		return false, err
	}
	if sealed > 0 {
		f.Close()
		return true, c.open(segmentName(sealed), sealed, false)
	}

	c.file = f
	c.offset = 0
	c.segID = 0
	c.active = true
	return true, nil
}

func (c *Cursor) open(name string, id int, active bool) error {
	f, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		return fmt.Errorf("journal: open segment: %w", err)
	}
	c.file = f
	c.offset = 0
	c.segID = id
	c.active = active
	return nil
}

// atEnd handles hitting the end of the current segment. For a sealed
// segment that is the end of its data; for the active segment it may
// mean either "caught up" or "this file was sealed under a new name
// while we were reading it". Returns true when the cursor moved on and
// the caller should retry.
func (c *Cursor) atEnd() (bool, error) {
	if !c.active {
		c.lastSealed = c.segID
		c.file.Close()
		c.file = nil
		return true, nil
	}

	// The handle survives the rotation rename, so everything written
	// before the seal has been read. If the sealed name now exists the
	// producer has moved to a fresh active segment.
	if _, err := os.Stat(filepath.Join(c.dir, segmentName(c.lastSealed+1))); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("journal: stat segment: %w", err)
	}

	c.lastSealed++
	c.file.Close()
	c.file = nil
	return true, nil
}

// sealedAfter returns the lowest sealed segment ID greater than the
// last one consumed, or 0 when none exists.
func (c *Cursor) sealedAfter() (int, error) {
	ids, err := sealedSegments(c.dir)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	for _, id := range ids {
		if id > c.lastSealed {
			return id, nil
		}
	}
	return 0, nil
}
