// Package replay records demos of a match: encoded world updates in a zstd
// frame stream and session events in a snappy JSON line log.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var writerMatchCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	// DefaultFrameInterval is the cadence at which buffered frames are persisted.
	DefaultFrameInterval = 200 * time.Millisecond

	manifestName = "manifest.json"
	headerName   = "header.json"
	eventsName   = "events.jsonl.sz"
	framesName   = "frames.bin.zst"

	// tick(4) captured_at(8) length(4)
	frameHeaderSize = 16
)

type frameBlob struct {
	Tick       uint32
	CapturedAt time.Time
	Payload    []byte
}

// eventRecord is one line of the event log.
type eventRecord struct {
	Tick       uint32          `json:"tick"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Writer streams a demo bundle to disk. It is safe for concurrent use.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	header      Header
	interval    time.Duration
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	lastFlush   time.Time
	frames      int
	events      int
	closed      bool
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	TickRate        int    `json:"tick_rate"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// NewWriter creates a bundle directory under root named after the match and
// opens its compressed sinks. The header is written on Close.
func NewWriter(root string, header Header, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("demo root must be provided")
	}
	if header.TickRate <= 0 {
		return nil, Manifest{}, fmt.Errorf("demo tick rate must be positive")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := writerMatchCleaner.ReplaceAllString(header.MatchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(DefaultFrameInterval / time.Millisecond),
		TickRate:        header.TickRate,
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestName), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	header.SchemaVersion = HeaderSchemaVersion
	header.FilePointer = manifestName
	return &Writer{
		dir:         path,
		now:         clock,
		header:      header,
		interval:    DefaultFrameInterval,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendEvent writes one JSON event line. Payload is marshalled as JSON.
func (w *Writer) AppendEvent(tick uint32, kind string, payload any) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return w.appendEventAt(tick, kind, raw, w.now().UTC())
}

func (w *Writer) appendEventAt(tick uint32, kind string, raw json.RawMessage, captured time.Time) error {
	line, err := json.Marshal(eventRecord{
		Tick:       tick,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       kind,
		Payload:    raw,
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.events++
	return w.eventStream.Flush()
}

// AppendFrame stages an encoded world update; staged frames are persisted
// every frame interval.
func (w *Writer) AppendFrame(tick uint32, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	return w.appendFrameAt(tick, payload, w.now().UTC())
}

func (w *Writer) appendFrameAt(tick uint32, payload []byte, captured time.Time) error {
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer closed")
	}
	//1.- Stage the frame so cadence enforcement can persist batches together.
	w.pending = append(w.pending, frameBlob{Tick: tick, CapturedAt: captured, Payload: clone})
	w.frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= w.interval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// SetMapSeed records the world seed in the header written on Close.
func (w *Writer) SetMapSeed(seed string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.header.MapSeed = seed
	w.mu.Unlock()
}

// Counts reports how many frames and events were appended.
func (w *Writer) Counts() (frames, events int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.events
}

// Flush forces staged frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes the header, flushes every buffer and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush and close, surfacing the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(WriteHeader(filepath.Join(w.dir, headerName), w.header))
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes staged frames to the zstd stream; callers hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	//1.- Length-prefixed frames let readers step without an index.
	header := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint32(header[0:4], frame.Tick)
		binary.LittleEndian.PutUint64(header[4:12], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[12:16], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return raw, nil
}
