package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Frame layout on disk, little endian:
//
//	len uint32 | crc32 uint32 | payload
//
// The CRC covers the payload only.
const frameHeaderSize = 8

const (
	activeSegment      = "current.seg"
	sealedSuffix       = ".seg"
	DefaultSegmentSize = 64 << 20
)

// Config holds appender settings. Dir is the only required field.
type Config struct {
	// Dir is the journal directory. Created if missing.
	Dir string

	// SegmentSize is the rotation threshold in bytes for the active
	// segment. Zero means DefaultSegmentSize.
	SegmentSize int64

	// SyncEachAppend forces an fsync after every append. Durable but
	// slow; without it records survive process crashes only after
	// Sync or rotation.
	SyncEachAppend bool
}

// Appender is the single producer end of the journal. Records go into
// the active segment current.seg; full segments are sealed under
// monotonically increasing names (000001.seg, ...) that a Cursor reads
// in order. Not safe for concurrent use.
type Appender struct {
	cfg     Config
	file    *os.File
	writer  *bufio.Writer
	segID   int
	written int64
}

// OpenAppender opens the journal directory for writing, creating it if
// needed. A torn frame at the tail of the active segment, left by a
// crash mid-append, is truncated away.
func OpenAppender(cfg Config) (*Appender, error) {
	if cfg.Dir == "" {
		return nil, errors.New("journal: dir is required")
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	sealed, err := sealedSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	segID := 0
	if len(sealed) > 0 {
		segID = sealed[len(sealed)-1]
	}

	path := filepath.Join(cfg.Dir, activeSegment)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open active segment: %w", err)
	}

	a := &Appender{cfg: cfg, file: f, segID: segID}
	if err := a.recoverTail(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(a.written, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("journal: seek: %w", err)
	}
	a.writer = bufio.NewWriterSize(f, 1<<16)
	return a, nil
}

// Append frames and writes one record. The write is flushed to the OS
// before returning so a cursor in another goroutine can see it; it is
// fsynced only when SyncEachAppend is set.
func (a *Appender) Append(rec *Record) error {
	payload, err := rec.encode()
	if err != nil {
		return err
	}

	frameSize := int64(frameHeaderSize + len(payload))
	if a.written+frameSize >= a.cfg.SegmentSize && a.written > 0 {
		if err := a.rotate(); err != nil {
			return err
		}
	}

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	if _, err := a.writer.Write(header[:]); err != nil {
		return fmt.Errorf("journal: write frame: %w", err)
	}
	if _, err := a.writer.Write(payload); err != nil {
		return fmt.Errorf("journal: write frame: %w", err)
	}
	if err := a.writer.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	a.written += frameSize

	if a.cfg.SyncEachAppend {
		if err := a.file.Sync(); err != nil {
			return fmt.Errorf("journal: sync: %w", err)
		}
	}
	return nil
}

// Sync flushes buffered frames and fsyncs the active segment.
func (a *Appender) Sync() error {
	if err := a.writer.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

// Close flushes, fsyncs and releases the active segment. The segment
// stays in place; a reopened appender continues where it left off.
func (a *Appender) Close() error {
	flushErr := a.writer.Flush()
	syncErr := a.file.Sync()
	closeErr := a.file.Close()
	if flushErr != nil {
		return fmt.Errorf("journal: close: %w", flushErr)
	}
	if syncErr != nil {
		return fmt.Errorf("journal: close: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("journal: close: %w", closeErr)
	}
	return nil
}

// rotate seals the active segment under the next sequential name and
// starts a fresh one. The rename is what a tailing cursor watches for.
func (a *Appender) rotate() error {
	if err := a.writer.Flush(); err != nil {
		return fmt.Errorf("journal: rotate flush: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("journal: rotate sync: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("journal: rotate close: %w", err)
	}

	newID := a.segID + 1
	oldPath := filepath.Join(a.cfg.Dir, activeSegment)
	newPath := filepath.Join(a.cfg.Dir, segmentName(newID))
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("journal: rotate rename: %w", err)
	}

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("journal: rotate open: %w", err)
	}
	a.file = f
	a.writer = bufio.NewWriterSize(f, 1<<16)
	a.segID = newID
	a.written = 0
	return nil
}

// recoverTail scans the active segment frame by frame and truncates
// anything after the last complete, CRC-valid frame.
func (a *Appender) recoverTail() error {
	info, err := a.file.Stat()
	if err != nil {
		return fmt.Errorf("journal: stat: %w", err)
	}
	if info.Size() == 0 {
		a.written = 0
		return nil
	}

	var (
		valid  int64
		header [frameHeaderSize]byte
	)
	r := io.NewSectionReader(a.file, 0, info.Size())
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("journal: recover: %w", err)
		}
		payloadLen := binary.LittleEndian.Uint32(header[:4])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("journal: recover: %w", err)
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			break
		}
		valid += int64(frameHeaderSize) + int64(payloadLen)
	}

	if valid < info.Size() {
		if err := a.file.Truncate(valid); err != nil {
			return fmt.Errorf("journal: truncate torn tail: %w", err)
		}
	}
	a.written = valid
	return nil
}

func segmentName(id int) string {
	return fmt.Sprintf("%06d%s", id, sealedSuffix)
}

// sealedSegments lists sealed segment IDs in ascending order.
func sealedSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("journal: read dir: %w", err)
	}

	var ids []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == activeSegment || !strings.HasSuffix(name, sealedSuffix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, sealedSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}
