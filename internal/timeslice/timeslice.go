// Package timeslice records how long each serviced call took, per hart, into
// a compact binary log that cmd/timeslice summarises.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x54534c46 // "TSLF"
	Version uint32 = 3

	// kinds are followed by padding up to this boundary so records start aligned
	alignment = 4096
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

type KindID uint32

const InvalidKindID = KindID(0)

type KindInfo struct {
	Name  string
	Flags KindFlags
}

type KindFlags uint32

const (
	// KindLegacy marks v0.1 calls, which return only a0.
	KindLegacy KindFlags = 1 << iota
	// KindUnknown marks calls to extensions the firmware does not implement.
	KindUnknown
)

func (f KindFlags) String() string {
	flags := []string{}
	if f&KindLegacy != 0 {
		flags = append(flags, "legacy")
	}
	if f&KindUnknown != 0 {
		flags = append(flags, "unknown")
	}
	return strings.Join(flags, ",")
}

var (
	kindsMu sync.RWMutex
	kinds   = make(map[KindID]KindInfo)
)

// RegisterKind adds a record kind. Kinds registered after Open are not
// written to that log's header, so register them from package init.
func RegisterKind(name string, flags KindFlags) KindID {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	id := KindID(len(kinds) + 1)
	kinds[id] = KindInfo{Name: name, Flags: flags}
	return id
}

// Lookup returns the info registered for id.
func Lookup(id KindID) (KindInfo, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	info, ok := kinds[id]
	return info, ok
}

type record struct {
	Kind     KindID
	Hart     uint32
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w    io.Writer
	ch   chan record
	done chan error

	// held for reading by Record while sending, so Close cannot close ch under it
	mu     sync.RWMutex
	closed bool
}

func (w *writer) run() {
	defer close(w.done)

	buf := make([]byte, alignment)
	off := 0

	for rec := range w.ch {
		if off+recordSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				// drain so Record never blocks on a dead writer
				for range w.ch {
				}
				w.done <- err
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(rec.Kind))
		binary.LittleEndian.PutUint32(buf[off+4:], rec.Hart)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(rec.Duration))
		off += recordSize
	}

	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.done <- err
			return
		}
	}
	w.done <- nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("timeslice: already closed")
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	current.CompareAndSwap(w, nil)

	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write thread: %w", err)
	}
	return nil
}

func (w *writer) send(rec record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.closed {
		w.ch <- rec
	}
}

var current atomic.Pointer[writer]

// Enabled reports whether a log is open. Callers use it to skip taking
// timestamps when nothing is recording.
func Enabled() bool {
	return current.Load() != nil
}

// Record appends one record to the open log. It is safe for concurrent use
// and does nothing when no log is open.
func Record(id KindID, hart uint64, d time.Duration) {
	if w := current.Load(); w != nil {
		w.send(record{Kind: id, Hart: uint32(hart), Duration: d.Nanoseconds()})
	}
}

// Open starts recording into w. Only one log may be open at a time; the
// returned Closer flushes it.
func Open(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, fmt.Errorf("timeslice: already open")
	}

	kindsMu.RLock()
	encoded, err := json.Marshal(kinds)
	kindsMu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(encoded)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(len(encoded)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	wr := &writer{
		w:    w,
		ch:   make(chan record, 4096),
		done: make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, wr) {
		return nil, fmt.Errorf("timeslice: already open")
	}
	go wr.run()

	return wr, nil
}

func padding(kindsLength int) int {
	off := binary.Size(header{}) + kindsLength
	if off%alignment == 0 {
		return 0
	}
	return alignment - off%alignment
}

// Entry is one decoded record.
type Entry struct {
	Kind     string
	Flags    KindFlags
	Hart     uint64
	Duration time.Duration
}

// ReadAll decodes a log written by Open and calls fn for every record.
func ReadAll(r io.Reader, fn func(Entry) error) error {
	buf := bufio.NewReaderSize(r, alignment)

	var hdr header
	if err := binary.Read(buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if hdr.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic %#x", hdr.Magic)
	}
	if hdr.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", hdr.Version)
	}

	var table map[KindID]KindInfo
	dec := json.NewDecoder(io.LimitReader(buf, int64(hdr.KindsLength)))
	if err := dec.Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	if pad := padding(int(hdr.KindsLength)); pad > 0 {
		if _, err := buf.Discard(pad); err != nil {
			return fmt.Errorf("timeslice: skip padding: %w", err)
		}
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		kind, ok := table[rec.Kind]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.Kind)
		}
		if err := fn(Entry{
			Kind:     kind.Name,
			Flags:    kind.Flags,
			Hart:     uint64(rec.Hart),
			Duration: time.Duration(rec.Duration),
		}); err != nil {
			return err
		}
	}
}
